// Package settlement credits passengers once a flight's status is resolved.
package settlement

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/eventlog"
	"github.com/ppiankov/surety/internal/insurance"
	"github.com/ppiankov/surety/internal/ledger"
	"github.com/ppiankov/surety/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Report summarizes one settlement pass
type Report struct {
	Flight   model.FlightKey  `json:"flight"`
	Status   model.StatusCode `json:"status_code"`
	Credited int              `json:"credited"` // purchases paid out in this pass
	Closed   int              `json:"closed"`   // purchases settled with zero payout
	Skipped  int              `json:"skipped"`  // purchases settled by an earlier pass
	Failed   int              `json:"failed"`
	Paid     decimal.Decimal  `json:"paid"`
}

// Engine settles every purchase of a flight. Idempotence comes solely from
// the per-purchase settled flag, so repeated passes never double-credit.
type Engine struct {
	book       *insurance.Book
	ledger     ledger.Ledger
	multiplier decimal.Decimal
	events     eventlog.Publisher
	log        *zap.Logger
}

// NewEngine creates a settlement engine paying premium × multiplier
func NewEngine(book *insurance.Book, l ledger.Ledger, multiplier decimal.Decimal, events eventlog.Publisher, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		book:       book,
		ledger:     l,
		multiplier: multiplier,
		events:     events,
		log:        log,
	}
}

// SettleFlight settles all unsettled purchases of flight for the resolved status.
// A failed credit leaves that purchase unsettled and is reported in the error.
func (e *Engine) SettleFlight(ctx context.Context, flight model.FlightKey, status model.StatusCode) (Report, error) {
	report := Report{Flight: flight, Status: status, Paid: decimal.Zero}
	var errs []error

	for _, id := range e.book.ForFlight(flight) {
		var paid decimal.Decimal
		settled, err := e.book.Settle(id, func(p model.Purchase) (decimal.Decimal, error) {
			if !status.PaysOut() {
				return decimal.Zero, nil
			}
			payout := p.Premium.Mul(e.multiplier)
			if err := e.ledger.Credit(ctx, p.Passenger, payout); err != nil {
				return decimal.Zero, pkgerrors.Wrapf(err, "credit purchase %s", p.ID)
			}
			paid = payout
			return payout, nil
		})

		switch {
		case err != nil:
			report.Failed++
			errs = append(errs, err)
			e.log.Error("settlement credit failed",
				zap.String("purchase", id),
				zap.Stringer("flight", flight),
				zap.Error(err))
		case !settled:
			report.Skipped++
		case paid.IsPositive():
			report.Credited++
			report.Paid = report.Paid.Add(paid)
			e.publishCredit(ctx, id, paid)
		default:
			report.Closed++
		}
	}

	e.log.Info("flight settled",
		zap.Stringer("flight", flight),
		zap.Stringer("status", status),
		zap.Int("credited", report.Credited),
		zap.Int("closed", report.Closed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.String("paid", report.Paid.String()))

	return report, errors.Join(errs...)
}

func (e *Engine) publishCredit(ctx context.Context, id string, amount decimal.Decimal) {
	if e.events == nil {
		return
	}
	p, err := e.book.Get(id)
	if err != nil {
		return
	}
	_, err = e.events.Publish(ctx, model.EventPassengerCredited, model.PassengerCredited{
		PurchaseID: id,
		Passenger:  p.Passenger,
		Amount:     amount,
	})
	if err != nil {
		e.log.Warn("publish credit event", zap.String("purchase", id), zap.Error(err))
	}
}
