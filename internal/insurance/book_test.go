package insurance

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ppiankov/surety/internal/common"
	"github.com/ppiankov/surety/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var flight = model.FlightKey{Airline: "airline-1", Flight: "ND1309", Timestamp: 1553367808}

func TestBook_PurchaseOverCapRejected(t *testing.T) {
	b := NewBook(decimal.NewFromInt(1))

	_, err := b.Purchase("p1", flight, decimal.RequireFromString("1.2"))
	assert.ErrorIs(t, err, ErrPremiumExceedsCap)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
	assert.Empty(t, b.ForFlight(flight))
}

func TestBook_PurchaseAtCapAccepted(t *testing.T) {
	b := NewBook(decimal.NewFromInt(1))

	p, err := b.Purchase("p1", flight, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.Settled)
	assert.Equal(t, []string{p.ID}, b.ForFlight(flight))
}

func TestBook_PurchaseRejectsNonPositive(t *testing.T) {
	b := NewBook(decimal.NewFromInt(1))
	_, err := b.Purchase("p1", flight, decimal.Zero)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestBook_MultiplePoliciesSameFlight(t *testing.T) {
	b := NewBook(decimal.NewFromInt(1))
	p1, err := b.Purchase("p1", flight, decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	p2, err := b.Purchase("p1", flight, decimal.RequireFromString("0.5"))
	require.NoError(t, err)

	assert.NotEqual(t, p1.ID, p2.ID)
	assert.Equal(t, []string{p1.ID, p2.ID}, b.ForFlight(flight))
	assert.Len(t, b.ForPassenger("p1"), 2)
	assert.Empty(t, b.ForPassenger("p2"))
}

func TestBook_SettleOnce(t *testing.T) {
	b := NewBook(decimal.NewFromInt(1))
	p, err := b.Purchase("p1", flight, decimal.NewFromInt(1))
	require.NoError(t, err)

	var calls int32
	fn := func(model.Purchase) (decimal.Decimal, error) {
		atomic.AddInt32(&calls, 1)
		return decimal.RequireFromString("1.5"), nil
	}

	var wg sync.WaitGroup
	var settled int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := b.Settle(p.ID, fn)
			if err == nil && ok {
				atomic.AddInt32(&settled, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), settled)
	assert.Equal(t, int32(1), calls)

	got, err := b.Get(p.ID)
	require.NoError(t, err)
	assert.True(t, got.Settled)
	assert.True(t, got.Payout.Equal(decimal.RequireFromString("1.5")))
}

func TestBook_SettleFailureLeavesUnsettled(t *testing.T) {
	b := NewBook(decimal.NewFromInt(1))
	p, err := b.Purchase("p1", flight, decimal.NewFromInt(1))
	require.NoError(t, err)

	boom := errors.New("ledger down")
	ok, err := b.Settle(p.ID, func(model.Purchase) (decimal.Decimal, error) {
		return decimal.Zero, boom
	})
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)

	got, _ := b.Get(p.ID)
	assert.False(t, got.Settled)
}

func TestBook_SettleUnknown(t *testing.T) {
	b := NewBook(decimal.NewFromInt(1))
	_, err := b.Settle("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownPurchase)
}
