// Package oracle assigns index sets to registering oracles and answers
// membership questions for the response aggregator.
package oracle

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/common"
	"github.com/ppiankov/surety/internal/entropy"
	"github.com/ppiankov/surety/internal/model"
	"github.com/shopspring/decimal"
)

var (
	ErrAlreadyRegistered = common.Register(common.KindConflict, "already_registered", "oracle is already registered")
	ErrInsufficientFee   = common.Register(common.KindValidation, "insufficient_fee", "registration fee not met")
	ErrUnknownOracle     = common.Register(common.KindValidation, "unknown_oracle", "oracle is not registered")
)

// Registry assigns and stores oracle index sets. Registrations are permanent.
type Registry struct {
	mu         sync.RWMutex
	oracles    map[string]model.Oracle
	fee        decimal.Decimal
	indexSpace int
	source     entropy.Source
	clock      func() time.Time
}

// NewRegistry creates a registry drawing indices in [0, indexSpace)
func NewRegistry(indexSpace int, fee decimal.Decimal, source entropy.Source) *Registry {
	return &Registry{
		oracles:    make(map[string]model.Oracle),
		fee:        fee,
		indexSpace: indexSpace,
		source:     source,
		clock:      time.Now,
	}
}

// Fee returns the configured registration fee
func (r *Registry) Fee() decimal.Decimal {
	return r.fee
}

// IndexSpace returns N, the size of the index range
func (r *Registry) IndexSpace() int {
	return r.indexSpace
}

// Register assigns three independently drawn indices to identity.
// Each slot is drawn on its own, so an oracle may hold the same index twice.
func (r *Registry) Register(identity string, paid decimal.Decimal) (model.Oracle, error) {
	if paid.LessThan(r.fee) {
		return model.Oracle{}, errors.Wrapf(ErrInsufficientFee, "paid %s, required %s", paid, r.fee)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.oracles[identity]; exists {
		return model.Oracle{}, errors.Wrapf(ErrAlreadyRegistered, "oracle %s", identity)
	}

	var indices model.IndexSet
	for slot := range indices {
		indices[slot] = entropy.Index(r.source, r.indexSpace, []byte(identity), []byte{byte(slot)})
	}

	o := model.Oracle{
		Identity:     identity,
		Indices:      indices,
		RegisteredAt: r.clock().UTC(),
	}
	r.oracles[identity] = o
	return o, nil
}

// Indices returns the index set assigned to identity
func (r *Registry) Indices(identity string) (model.IndexSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.oracles[identity]
	if !ok {
		return model.IndexSet{}, errors.Wrapf(ErrUnknownOracle, "oracle %s", identity)
	}
	return o.Indices, nil
}

// Count returns the number of registered oracles
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.oracles)
}
