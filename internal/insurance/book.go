// Package insurance records passenger purchases and guards their one-time settlement.
package insurance

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/common"
	"github.com/ppiankov/surety/internal/model"
	"github.com/shopspring/decimal"
)

var (
	ErrPremiumExceedsCap = common.Register(common.KindValidation, "premium_exceeds_cap", "premium is above the cap")
	ErrUnknownPurchase   = common.Register(common.KindValidation, "unknown_purchase", "purchase does not exist")
)

// SettleFunc performs the credit for a purchase and returns the amount paid out.
// The purchase is marked settled only when it returns nil.
type SettleFunc func(p model.Purchase) (decimal.Decimal, error)

type record struct {
	mu sync.Mutex
	p  model.Purchase
}

// Book stores purchases. Each purchase has its own lock so settlement of
// different purchases proceeds in parallel.
type Book struct {
	mu         sync.RWMutex
	premiumCap decimal.Decimal
	purchases  map[string]*record
	byFlight   map[model.FlightKey][]string
	clock      func() time.Time
}

// NewBook creates a book enforcing premiumCap on every purchase
func NewBook(premiumCap decimal.Decimal) *Book {
	return &Book{
		premiumCap: premiumCap,
		purchases:  make(map[string]*record),
		byFlight:   make(map[model.FlightKey][]string),
		clock:      time.Now,
	}
}

// Purchase records a new unsettled policy. Premiums above the cap are rejected, never truncated.
func (b *Book) Purchase(passenger string, flight model.FlightKey, premium decimal.Decimal) (model.Purchase, error) {
	if !premium.IsPositive() {
		return model.Purchase{}, errors.Wrapf(common.ErrInvalidAmount, "premium %s", premium)
	}
	if premium.GreaterThan(b.premiumCap) {
		return model.Purchase{}, errors.Wrapf(ErrPremiumExceedsCap, "premium %s, cap %s", premium, b.premiumCap)
	}

	p := model.Purchase{
		ID:          uuid.NewString(),
		Passenger:   passenger,
		Flight:      flight,
		Premium:     premium,
		Payout:      decimal.Zero,
		PurchasedAt: b.clock().UTC(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.purchases[p.ID] = &record{p: p}
	b.byFlight[flight] = append(b.byFlight[flight], p.ID)

	return p, nil
}

// Get returns a snapshot of the purchase
func (b *Book) Get(id string) (model.Purchase, error) {
	r, err := b.record(id)
	if err != nil {
		return model.Purchase{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.p, nil
}

// ForFlight returns the ids of every purchase for the flight in purchase order
func (b *Book) ForFlight(flight model.FlightKey) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := b.byFlight[flight]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// ForPassenger returns snapshots of every purchase made by passenger
func (b *Book) ForPassenger(passenger string) []model.Purchase {
	b.mu.RLock()
	records := make([]*record, 0)
	for _, r := range b.purchases {
		records = append(records, r)
	}
	b.mu.RUnlock()

	out := make([]model.Purchase, 0)
	for _, r := range records {
		r.mu.Lock()
		if r.p.Passenger == passenger {
			out = append(out, r.p)
		}
		r.mu.Unlock()
	}
	return out
}

// Settle runs fn for an unsettled purchase and flips settled only if fn succeeds.
// It reports whether this call settled the purchase.
func (b *Book) Settle(id string, fn SettleFunc) (bool, error) {
	r, err := b.record(id)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.p.Settled {
		return false, nil
	}

	payout, err := fn(r.p)
	if err != nil {
		return false, err
	}

	r.p.Settled = true
	r.p.Payout = payout
	return true, nil
}

func (b *Book) record(id string) (*record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.purchases[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPurchase, "purchase %s", id)
	}
	return r, nil
}
