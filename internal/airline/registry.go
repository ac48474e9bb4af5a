// Package airline tracks which airlines are recognized by the contract.
// An airline is recognized once it is registered and has paid the minimum
// funding. Multi-party voting is handled elsewhere; any funded airline may
// register another one.
package airline

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/common"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownAirline      = common.Register(common.KindValidation, "unknown_airline", "airline is not registered and funded")
	ErrAirlineRegistered   = common.Register(common.KindConflict, "airline_already_registered", "airline is already registered")
	ErrRegistrarNotFunded  = common.Register(common.KindValidation, "registrar_not_funded", "only a funded airline may register another airline")
	ErrAirlineNotFound     = common.Register(common.KindValidation, "airline_not_registered", "airline is not registered")
	ErrInsufficientFunding = common.Register(common.KindValidation, "insufficient_funding", "funding below the required minimum")
)

// Airline is a registered carrier
type Airline struct {
	ID           string          `json:"id"`
	RegisteredBy string          `json:"registered_by"`
	Funding      decimal.Decimal `json:"funding"`
	Funded       bool            `json:"funded"`
}

// Registry holds registered airlines
type Registry struct {
	mu         sync.RWMutex
	airlines   map[string]*Airline
	minFunding decimal.Decimal
}

// NewRegistry creates a registry seeded with the first airline
func NewRegistry(first string, minFunding decimal.Decimal) *Registry {
	r := &Registry{
		airlines:   make(map[string]*Airline),
		minFunding: minFunding,
	}
	if first != "" {
		r.airlines[first] = &Airline{ID: first, RegisteredBy: first}
	}
	return r
}

// Register adds airline on behalf of registrar, which must be a funded airline
func (r *Registry) Register(registrar, airline string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.airlines[registrar]
	if !ok || !reg.Funded {
		return errors.Wrapf(ErrRegistrarNotFunded, "registrar %s", registrar)
	}
	if _, exists := r.airlines[airline]; exists {
		return errors.Wrapf(ErrAirlineRegistered, "airline %s", airline)
	}

	r.airlines[airline] = &Airline{ID: airline, RegisteredBy: registrar}
	return nil
}

// Fund adds funding to a registered airline. Contributions accumulate.
func (r *Registry) Fund(airline string, amount decimal.Decimal) (Airline, error) {
	if !amount.IsPositive() {
		return Airline{}, errors.Wrapf(common.ErrInvalidAmount, "funding %s", amount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.airlines[airline]
	if !ok {
		return Airline{}, errors.Wrapf(ErrAirlineNotFound, "airline %s", airline)
	}

	total := a.Funding.Add(amount)
	if !a.Funded && total.LessThan(r.minFunding) {
		return *a, errors.Wrapf(ErrInsufficientFunding, "%s is below %s", total, r.minFunding)
	}

	a.Funding = total
	a.Funded = true
	return *a, nil
}

// Recognized reports whether airline is registered and funded
func (r *Registry) Recognized(airline string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.airlines[airline]
	return ok && a.Funded
}

// Get returns a copy of the airline record
func (r *Registry) Get(airline string) (Airline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.airlines[airline]
	if !ok {
		return Airline{}, false
	}
	return *a, true
}

// List returns all registered airline ids
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.airlines))
	for id := range r.airlines {
		ids = append(ids, id)
	}
	return ids
}
