package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the complete surety configuration
type Config struct {
	Protocol  ProtocolConfig  `yaml:"protocol" mapstructure:"protocol"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Simulator SimulatorConfig `yaml:"simulator" mapstructure:"simulator"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// ProtocolConfig holds deployment values of the oracle protocol. Amounts are decimal strings.
type ProtocolConfig struct {
	IndexSpace        int    `yaml:"index_space" mapstructure:"index_space"`
	Quorum            int    `yaml:"quorum" mapstructure:"quorum"`
	RegistrationFee   string `yaml:"registration_fee" mapstructure:"registration_fee"`
	PremiumCap        string `yaml:"premium_cap" mapstructure:"premium_cap"`
	PayoutMultiplier  string `yaml:"payout_multiplier" mapstructure:"payout_multiplier"`
	AirlineMinFunding string `yaml:"airline_min_funding" mapstructure:"airline_min_funding"`
	Owner             string `yaml:"owner" mapstructure:"owner"`
	FirstAirline      string `yaml:"first_airline" mapstructure:"first_airline"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	LongPoll     time.Duration `yaml:"long_poll" mapstructure:"long_poll"`
}

// StoreConfig selects the event log backend
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // memory, sqlite
	Path   string `yaml:"path" mapstructure:"path"`
}

// SimulatorConfig configures the off-chain oracle simulator
type SimulatorConfig struct {
	Oracles        int           `yaml:"oracles" mapstructure:"oracles"`
	IdentityPrefix string        `yaml:"identity_prefix" mapstructure:"identity_prefix"`
	Workers        int           `yaml:"workers" mapstructure:"workers"`
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint"` // empty runs in-process
	Policy         string        `yaml:"policy" mapstructure:"policy"`     // fixed, random, feed
	StatusCode     int           `yaml:"status_code" mapstructure:"status_code"`
	FeedURL        string        `yaml:"feed_url" mapstructure:"feed_url"`
	SubmitRate     float64       `yaml:"submit_rate" mapstructure:"submit_rate"`
	SubmitBurst    int           `yaml:"submit_burst" mapstructure:"submit_burst"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"`
	CheckpointDir  string        `yaml:"checkpoint_dir" mapstructure:"checkpoint_dir"`
}

// CacheConfig configures the feed answer cache
type CacheConfig struct {
	TTL             time.Duration `yaml:"ttl" mapstructure:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Mode    string `yaml:"mode" mapstructure:"mode"` // development, production
	Level   string `yaml:"level" mapstructure:"level"`
	File    string `yaml:"file" mapstructure:"file"` // empty logs to stderr only
	Console bool   `yaml:"console" mapstructure:"console"`
}

// DefaultConfig returns the reference deployment configuration
func DefaultConfig() *Config {
	return &Config{
		Protocol: ProtocolConfig{
			IndexSpace:        10,
			Quorum:            3,
			RegistrationFee:   "1",
			PremiumCap:        "1",
			PayoutMultiplier:  "1.5",
			AirlineMinFunding: "10",
			Owner:             "owner",
			FirstAirline:      "airline-1",
		},
		Server: ServerConfig{
			Addr:         ":3000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			LongPoll:     25 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
			Path:   "surety.db",
		},
		Simulator: SimulatorConfig{
			Oracles:        30,
			IdentityPrefix: "oracle",
			Workers:        8,
			Policy:         "fixed",
			StatusCode:     int(StatusLateAirlineFault),
			SubmitRate:     50,
			SubmitBurst:    10,
			ReconnectDelay: 2 * time.Second,
		},
		Cache: CacheConfig{
			TTL:             5 * time.Minute,
			CleanupInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

// Params are the parsed protocol values
type Params struct {
	IndexSpace        int
	Quorum            int
	RegistrationFee   decimal.Decimal
	PremiumCap        decimal.Decimal
	PayoutMultiplier  decimal.Decimal
	AirlineMinFunding decimal.Decimal
	Owner             string
	FirstAirline      string
}

// Params parses and validates the protocol section
func (c ProtocolConfig) Params() (Params, error) {
	p := Params{
		IndexSpace:   c.IndexSpace,
		Quorum:       c.Quorum,
		Owner:        c.Owner,
		FirstAirline: c.FirstAirline,
	}
	if p.IndexSpace <= 0 {
		return p, fmt.Errorf("protocol.index_space must be positive, got %d", p.IndexSpace)
	}
	if p.Quorum <= 0 {
		return p, fmt.Errorf("protocol.quorum must be positive, got %d", p.Quorum)
	}

	amounts := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"registration_fee", c.RegistrationFee, &p.RegistrationFee},
		{"premium_cap", c.PremiumCap, &p.PremiumCap},
		{"payout_multiplier", c.PayoutMultiplier, &p.PayoutMultiplier},
		{"airline_min_funding", c.AirlineMinFunding, &p.AirlineMinFunding},
	}
	for _, a := range amounts {
		d, err := decimal.NewFromString(a.raw)
		if err != nil {
			return p, fmt.Errorf("protocol.%s: %w", a.name, err)
		}
		if d.IsNegative() {
			return p, fmt.Errorf("protocol.%s must not be negative", a.name)
		}
		*a.dst = d
	}

	return p, nil
}
