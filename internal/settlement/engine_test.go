package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/ppiankov/surety/internal/eventlog"
	"github.com/ppiankov/surety/internal/insurance"
	"github.com/ppiankov/surety/internal/ledger"
	"github.com/ppiankov/surety/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	flight     = model.FlightKey{Airline: "airline-1", Flight: "ND1309", Timestamp: 1553367808}
	multiplier = decimal.RequireFromString("1.5")
)

// flakyLedger fails credits for the listed passengers
type flakyLedger struct {
	*ledger.Memory
	failFor map[string]bool
}

func (f *flakyLedger) Credit(ctx context.Context, identity string, amount decimal.Decimal) error {
	if f.failFor[identity] {
		return errors.New("ledger unavailable")
	}
	return f.Memory.Credit(ctx, identity, amount)
}

func setup(t *testing.T) (*insurance.Book, *ledger.Memory, *eventlog.Log, *Engine) {
	t.Helper()
	book := insurance.NewBook(decimal.NewFromInt(1))
	l := ledger.NewMemory()
	log := eventlog.NewMemoryLog()
	return book, l, log, NewEngine(book, l, multiplier, log, nil)
}

func balance(t *testing.T, l ledger.Ledger, id string) decimal.Decimal {
	t.Helper()
	b, err := l.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestEngine_AirlineFaultCreditsPremiumTimesMultiplier(t *testing.T) {
	book, l, log, engine := setup(t)
	ctx := context.Background()

	p1, err := book.Purchase("p1", flight, decimal.NewFromInt(1))
	require.NoError(t, err)
	p2, err := book.Purchase("p2", flight, decimal.RequireFromString("0.4"))
	require.NoError(t, err)
	_, err = book.Purchase("p3", model.FlightKey{Airline: "airline-1", Flight: "OTHER", Timestamp: 1}, decimal.NewFromInt(1))
	require.NoError(t, err)

	report, err := engine.SettleFlight(ctx, flight, model.StatusLateAirlineFault)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Credited)
	assert.True(t, report.Paid.Equal(decimal.RequireFromString("2.1")), report.Paid.String())

	assert.True(t, balance(t, l, "p1").Equal(decimal.RequireFromString("1.5")))
	assert.True(t, balance(t, l, "p2").Equal(decimal.RequireFromString("0.6")))
	assert.True(t, balance(t, l, "p3").IsZero(), "other flights are untouched")

	for _, id := range []string{p1.ID, p2.ID} {
		p, _ := book.Get(id)
		assert.True(t, p.Settled)
	}

	entries, err := log.Since(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.EventPassengerCredited, entries[0].Type)
}

func TestEngine_OtherStatusesCloseWithoutCredit(t *testing.T) {
	for _, status := range []model.StatusCode{
		model.StatusUnknown, model.StatusOnTime, model.StatusLateWeather,
		model.StatusLateTechnical, model.StatusLateOther,
	} {
		t.Run(status.String(), func(t *testing.T) {
			book, l, _, engine := setup(t)
			p, err := book.Purchase("p1", flight, decimal.NewFromInt(1))
			require.NoError(t, err)

			report, err := engine.SettleFlight(context.Background(), flight, status)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Closed)
			assert.Equal(t, 0, report.Credited)
			assert.True(t, balance(t, l, "p1").IsZero())

			got, _ := book.Get(p.ID)
			assert.True(t, got.Settled)
		})
	}
}

func TestEngine_RepeatedSettlementNeverDoubleCredits(t *testing.T) {
	book, l, _, engine := setup(t)
	ctx := context.Background()
	_, err := book.Purchase("p1", flight, decimal.NewFromInt(1))
	require.NoError(t, err)

	_, err = engine.SettleFlight(ctx, flight, model.StatusLateAirlineFault)
	require.NoError(t, err)
	report, err := engine.SettleFlight(ctx, flight, model.StatusLateAirlineFault)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Credited)
	assert.True(t, balance(t, l, "p1").Equal(decimal.RequireFromString("1.5")))
}

func TestEngine_FailedCreditLeavesPurchaseUnsettled(t *testing.T) {
	book := insurance.NewBook(decimal.NewFromInt(1))
	flaky := &flakyLedger{Memory: ledger.NewMemory(), failFor: map[string]bool{"p2": true}}
	engine := NewEngine(book, flaky, multiplier, nil, nil)
	ctx := context.Background()

	_, err := book.Purchase("p1", flight, decimal.NewFromInt(1))
	require.NoError(t, err)
	p2, err := book.Purchase("p2", flight, decimal.NewFromInt(1))
	require.NoError(t, err)

	report, err := engine.SettleFlight(ctx, flight, model.StatusLateAirlineFault)
	assert.Error(t, err)
	assert.Equal(t, 1, report.Credited)
	assert.Equal(t, 1, report.Failed)

	got, _ := book.Get(p2.ID)
	assert.False(t, got.Settled)

	// once the ledger recovers a retry pays only the missing purchase
	flaky.failFor = nil
	report, err = engine.SettleFlight(ctx, flight, model.StatusLateAirlineFault)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Credited)
	assert.Equal(t, 1, report.Skipped)
	assert.True(t, balance(t, flaky, "p1").Equal(decimal.RequireFromString("1.5")))
	assert.True(t, balance(t, flaky, "p2").Equal(decimal.RequireFromString("1.5")))
}
