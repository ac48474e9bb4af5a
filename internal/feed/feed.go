// Package feed decides which status code a simulated oracle reports for a flight.
package feed

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/entropy"
	"github.com/ppiankov/surety/internal/model"
)

const (
	PolicyFixed  = "fixed"
	PolicyRandom = "random"
	PolicyHTTP   = "feed"
)

// Policy answers a status request on behalf of one oracle
type Policy interface {
	Status(ctx context.Context, req model.StatusRequested, oracle string) (model.StatusCode, error)
}

// Fixed reports the same code for every flight
type Fixed struct {
	Code model.StatusCode
}

// Status returns the configured code
func (f Fixed) Status(context.Context, model.StatusRequested, string) (model.StatusCode, error) {
	return f.Code, nil
}

// Random draws a code per oracle and request, so oracles can disagree
type Random struct {
	source entropy.Source
}

// NewRandom creates a random policy. A nil source uses an unseeded chain.
func NewRandom(source entropy.Source) *Random {
	if source == nil {
		source = entropy.NewChain(nil)
	}
	return &Random{source: source}
}

// Status draws one of the defined status codes
func (r *Random) Status(_ context.Context, req model.StatusRequested, oracle string) (model.StatusCode, error) {
	i := entropy.Index(r.source, len(model.StatusCodes),
		[]byte(oracle),
		[]byte(req.Airline),
		[]byte(req.Flight),
		[]byte(strconv.FormatInt(req.Timestamp, 10)),
	)
	return model.StatusCodes[i], nil
}

// New builds the policy named by cfg. The HTTP feed needs a fetcher.
func New(cfg model.SimulatorConfig, httpFeed *HTTPFeed) (Policy, error) {
	switch cfg.Policy {
	case "", PolicyFixed:
		code := model.StatusCode(cfg.StatusCode)
		if cfg.StatusCode < 0 || cfg.StatusCode > 255 || !code.Valid() {
			return nil, errors.Errorf("fixed policy: invalid status code %d", cfg.StatusCode)
		}
		return Fixed{Code: code}, nil
	case PolicyRandom:
		return NewRandom(nil), nil
	case PolicyHTTP:
		if httpFeed == nil {
			return nil, errors.New("feed policy: feed_url is not configured")
		}
		return httpFeed, nil
	default:
		return nil, errors.Errorf("unknown policy %q", cfg.Policy)
	}
}
