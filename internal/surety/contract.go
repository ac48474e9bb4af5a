// Package surety composes the oracle protocol, insurance book, settlement
// engine and balance ledger into the contract surface used by passengers,
// airlines and oracle nodes.
package surety

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/airline"
	"github.com/ppiankov/surety/internal/common"
	"github.com/ppiankov/surety/internal/entropy"
	"github.com/ppiankov/surety/internal/eventlog"
	"github.com/ppiankov/surety/internal/insurance"
	"github.com/ppiankov/surety/internal/ledger"
	"github.com/ppiankov/surety/internal/model"
	"github.com/ppiankov/surety/internal/oracle"
	"github.com/ppiankov/surety/internal/protocol"
	"github.com/ppiankov/surety/internal/settlement"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotOperational is returned by state-changing calls while the contract is paused
var ErrNotOperational = common.Register(common.KindValidation, "not_operational", "contract is not operational")

// Treasury is the ledger account collecting fees, premiums and airline funding
const Treasury = "treasury"

// Options override collaborators. Zero values select the defaults.
type Options struct {
	Events  *eventlog.Log
	Ledger  ledger.Ledger
	Entropy entropy.Source
	Logger  *zap.Logger
}

// Contract is the flight-surety contract
type Contract struct {
	params      model.Params
	operational atomic.Bool
	instance    string
	start       uint64

	events     *eventlog.Log
	ledger     ledger.Ledger
	airlines   *airline.Registry
	oracles    *oracle.Registry
	book       *insurance.Book
	requests   *protocol.Store
	bcast      *protocol.Broadcaster
	aggregator *protocol.Aggregator
	settlement *settlement.Engine
	log        *zap.Logger
}

// New creates an operational contract
func New(params model.Params, opts Options) *Contract {
	if opts.Events == nil {
		opts.Events = eventlog.NewMemoryLog()
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.NewMemory()
	}
	if opts.Entropy == nil {
		opts.Entropy = entropy.NewChain(opts.Events.State)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Contract{
		params:   params,
		events:   opts.Events,
		ledger:   opts.Ledger,
		airlines: airline.NewRegistry(params.FirstAirline, params.AirlineMinFunding),
		oracles:  oracle.NewRegistry(params.IndexSpace, params.RegistrationFee, opts.Entropy),
		book:     insurance.NewBook(params.PremiumCap),
		requests: protocol.NewStore(),
		log:      opts.Logger,
	}
	c.settlement = settlement.NewEngine(c.book, c.ledger, params.PayoutMultiplier, c.events, c.log.Named("settlement"))
	c.bcast = protocol.NewBroadcaster(c.requests, opts.Entropy, params.IndexSpace, c.events, c.log.Named("broadcaster"))
	c.aggregator = protocol.NewAggregator(c.requests, c.oracles, c.settlement, c.events, params.Quorum, c.log.Named("aggregator"))
	c.operational.Store(true)
	c.instance = uuid.NewString()
	c.start, _ = c.events.Head()

	return c
}

// Info identifies this contract instance and its position in the event log
func (c *Contract) Info() model.ChainInfo {
	head, _ := c.events.Head()
	return model.ChainInfo{Instance: c.instance, Start: c.start, Head: head}
}

// Events returns the public event log
func (c *Contract) Events() *eventlog.Log {
	return c.events
}

// Params returns the protocol parameters
func (c *Contract) Params() model.Params {
	return c.params
}

// IsOperational reports whether state-changing calls are accepted
func (c *Contract) IsOperational() bool {
	return c.operational.Load()
}

// SetOperational pauses or resumes the contract. Only the owner may call it.
func (c *Contract) SetOperational(ctx context.Context, caller string, operational bool) error {
	if caller != c.params.Owner {
		return errors.Wrapf(common.ErrUnauthorized, "%s is not the owner", caller)
	}
	if c.operational.Swap(operational) == operational {
		return nil
	}
	c.publish(ctx, model.EventOperationalChanged, model.OperationalChanged{Operational: operational, ChangedBy: caller})
	c.log.Info("operational status changed", zap.Bool("operational", operational), zap.String("by", caller))
	return nil
}

func (c *Contract) requireOperational() error {
	if !c.IsOperational() {
		return ErrNotOperational
	}
	return nil
}

// RegisterAirline registers airline on behalf of a funded registrar
func (c *Contract) RegisterAirline(ctx context.Context, registrar, id string) error {
	if err := c.requireOperational(); err != nil {
		return err
	}
	if err := c.airlines.Register(registrar, id); err != nil {
		return err
	}
	c.publish(ctx, model.EventAirlineRegistered, model.AirlineRegistered{Airline: id, RegisteredBy: registrar})
	return nil
}

// FundAirline records airline funding; the funds go to the treasury
func (c *Contract) FundAirline(ctx context.Context, id string, amount decimal.Decimal) (airline.Airline, error) {
	if err := c.requireOperational(); err != nil {
		return airline.Airline{}, err
	}
	a, err := c.airlines.Fund(id, amount)
	if err != nil {
		return a, err
	}
	c.collect(ctx, amount)
	c.publish(ctx, model.EventAirlineFunded, model.AirlineFunded{Airline: id, Amount: amount})
	return a, nil
}

// Airline returns the airline record
func (c *Contract) Airline(id string) (airline.Airline, bool) {
	return c.airlines.Get(id)
}

// Airlines lists registered airline ids
func (c *Contract) Airlines() []string {
	return c.airlines.List()
}

// PurchaseInsurance buys a policy for passenger on a recognized airline's flight
func (c *Contract) PurchaseInsurance(ctx context.Context, passenger string, flight model.FlightKey, premium decimal.Decimal) (model.Purchase, error) {
	if err := c.requireOperational(); err != nil {
		return model.Purchase{}, err
	}
	if !c.airlines.Recognized(flight.Airline) {
		return model.Purchase{}, errors.Wrapf(airline.ErrUnknownAirline, "airline %s", flight.Airline)
	}

	p, err := c.book.Purchase(passenger, flight, premium)
	if err != nil {
		return p, err
	}
	c.collect(ctx, premium)
	c.publish(ctx, model.EventInsurancePurchased, model.InsurancePurchased{
		PurchaseID: p.ID,
		Passenger:  passenger,
		Airline:    flight.Airline,
		Flight:     flight.Flight,
		Timestamp:  flight.Timestamp,
		Premium:    premium,
	})
	return p, nil
}

// Purchases returns every purchase made by passenger
func (c *Contract) Purchases(passenger string) []model.Purchase {
	return c.book.ForPassenger(passenger)
}

// Purchase returns one purchase
func (c *Contract) Purchase(id string) (model.Purchase, error) {
	return c.book.Get(id)
}

// RequestStatus asks oracles for the status of a recognized airline's flight
func (c *Contract) RequestStatus(ctx context.Context, flight model.FlightKey) (model.RequestKey, error) {
	if err := c.requireOperational(); err != nil {
		return model.RequestKey{}, err
	}
	if !c.airlines.Recognized(flight.Airline) {
		return model.RequestKey{}, errors.Wrapf(airline.ErrUnknownAirline, "airline %s", flight.Airline)
	}
	return c.bcast.RequestStatus(ctx, flight)
}

// Request returns a snapshot of a status request
func (c *Contract) Request(key model.RequestKey) (model.RequestView, error) {
	return c.requests.View(key)
}

// RegistrationFee returns the fee an oracle must pay to register
func (c *Contract) RegistrationFee() decimal.Decimal {
	return c.oracles.Fee()
}

// RegisterOracle registers identity after checking the paid fee
func (c *Contract) RegisterOracle(ctx context.Context, identity string, fee decimal.Decimal) (model.IndexSet, error) {
	if err := c.requireOperational(); err != nil {
		return model.IndexSet{}, err
	}
	o, err := c.oracles.Register(identity, fee)
	if err != nil {
		return model.IndexSet{}, err
	}
	c.collect(ctx, fee)
	c.publish(ctx, model.EventOracleRegistered, model.OracleRegistered{Identity: identity, Indices: o.Indices})
	c.log.Debug("oracle registered", zap.String("oracle", identity), zap.Ints("indices", o.Indices[:]))
	return o.Indices, nil
}

// OracleIndices returns the indices assigned to identity
func (c *Contract) OracleIndices(identity string) (model.IndexSet, error) {
	return c.oracles.Indices(identity)
}

// SubmitResponse records an oracle response and settles the flight on quorum
func (c *Contract) SubmitResponse(ctx context.Context, resp model.Response) (protocol.Outcome, error) {
	if err := c.requireOperational(); err != nil {
		return protocol.Outcome{}, err
	}
	return c.aggregator.Submit(ctx, resp)
}

// RetrySettlement re-runs settlement for a flight that has a resolved request.
// Purchases already settled are skipped.
func (c *Contract) RetrySettlement(ctx context.Context, flight model.FlightKey) (settlement.Report, error) {
	if err := c.requireOperational(); err != nil {
		return settlement.Report{}, err
	}
	for _, v := range c.requests.ForFlight(flight) {
		if v.State == model.RequestResolved && v.ResolvedStatus != nil {
			return c.settlement.SettleFlight(ctx, flight, *v.ResolvedStatus)
		}
	}
	return settlement.Report{}, errors.Wrapf(protocol.ErrNoSuchRequest, "no resolved request for %s", flight)
}

// Balance returns the withdrawable balance of identity
func (c *Contract) Balance(ctx context.Context, identity string) (decimal.Decimal, error) {
	return c.ledger.Balance(ctx, identity)
}

// Withdraw debits identity's balance
func (c *Contract) Withdraw(ctx context.Context, identity string, amount decimal.Decimal) error {
	if err := c.requireOperational(); err != nil {
		return err
	}
	if identity == Treasury {
		return errors.Wrap(common.ErrUnauthorized, "treasury funds are not withdrawable")
	}
	if err := c.ledger.Debit(ctx, identity, amount); err != nil {
		return err
	}
	c.publish(ctx, model.EventWithdrawn, model.Withdrawn{Identity: identity, Amount: amount})
	return nil
}

func (c *Contract) collect(ctx context.Context, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	if err := c.ledger.Credit(ctx, Treasury, amount); err != nil {
		c.log.Warn("treasury credit failed", zap.String("amount", amount.String()), zap.Error(err))
	}
}

func (c *Contract) publish(ctx context.Context, typ model.EventType, payload any) {
	if _, err := c.events.Publish(ctx, typ, payload); err != nil {
		c.log.Error("publish event", zap.String("type", string(typ)), zap.Error(err))
	}
}
