package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/ppiankov/surety/internal/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreditDebit(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	require.NoError(t, l.Credit(ctx, "p1", decimal.RequireFromString("1.5")))
	require.NoError(t, l.Credit(ctx, "p1", decimal.RequireFromString("0.5")))

	bal, err := l.Balance(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(2)), bal.String())

	require.NoError(t, l.Debit(ctx, "p1", decimal.NewFromInt(1)))
	bal, _ = l.Balance(ctx, "p1")
	assert.True(t, bal.Equal(decimal.NewFromInt(1)), bal.String())
}

func TestMemory_DebitInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	require.NoError(t, l.Credit(ctx, "p1", decimal.NewFromInt(1)))

	err := l.Debit(ctx, "p1", decimal.NewFromInt(2))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, common.KindValidation, common.KindOf(err))

	bal, _ := l.Balance(ctx, "p1")
	assert.True(t, bal.Equal(decimal.NewFromInt(1)), "balance must be unaffected")
}

func TestMemory_RejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	assert.ErrorIs(t, l.Credit(ctx, "p1", decimal.Zero), common.ErrInvalidAmount)
	assert.ErrorIs(t, l.Debit(ctx, "p1", decimal.NewFromInt(-1)), common.ErrInvalidAmount)
}

func TestMemory_ConcurrentCredits(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Credit(ctx, "p1", decimal.RequireFromString("0.01"))
		}()
	}
	wg.Wait()

	bal, _ := l.Balance(ctx, "p1")
	assert.True(t, bal.Equal(decimal.NewFromInt(1)), bal.String())
}
