// Package ledger holds withdrawable balances. Crediting is additive; debits
// fail when the balance does not cover the amount.
package ledger

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/common"
	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds is returned when a debit exceeds the balance
var ErrInsufficientFunds = common.Register(common.KindValidation, "insufficient_funds", "balance does not cover the amount")

// Ledger is the balance collaborator used by settlement and withdrawals
type Ledger interface {
	Credit(ctx context.Context, identity string, amount decimal.Decimal) error
	Debit(ctx context.Context, identity string, amount decimal.Decimal) error
	Balance(ctx context.Context, identity string) (decimal.Decimal, error)
}

// Memory is an in-process ledger
type Memory struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

// NewMemory creates an empty ledger
func NewMemory() *Memory {
	return &Memory{balances: make(map[string]decimal.Decimal)}
}

// Credit adds amount to identity's balance
func (m *Memory) Credit(_ context.Context, identity string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.Wrapf(common.ErrInvalidAmount, "credit %s", amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[identity] = m.balances[identity].Add(amount)
	return nil
}

// Debit removes amount from identity's balance
func (m *Memory) Debit(_ context.Context, identity string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.Wrapf(common.ErrInvalidAmount, "debit %s", amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.balances[identity]
	if current.LessThan(amount) {
		return errors.Wrapf(ErrInsufficientFunds, "%s has %s, requested %s", identity, current, amount)
	}
	m.balances[identity] = current.Sub(amount)
	return nil
}

// Balance returns identity's balance, zero when unknown
func (m *Memory) Balance(_ context.Context, identity string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[identity], nil
}
