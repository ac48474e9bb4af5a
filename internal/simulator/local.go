package simulator

import (
	"context"

	"github.com/ppiankov/surety/internal/model"
	"github.com/ppiankov/surety/internal/protocol"
	"github.com/ppiankov/surety/internal/surety"
	"github.com/shopspring/decimal"
)

// Local adapts an in-process contract to Chain
type Local struct {
	contract *surety.Contract
}

// NewLocal wraps c
func NewLocal(c *surety.Contract) *Local {
	return &Local{contract: c}
}

func (l *Local) Info(context.Context) (model.ChainInfo, error) {
	return l.contract.Info(), nil
}

func (l *Local) RegistrationFee(context.Context) (decimal.Decimal, error) {
	return l.contract.RegistrationFee(), nil
}

func (l *Local) RegisterOracle(ctx context.Context, identity string, fee decimal.Decimal) (model.IndexSet, error) {
	return l.contract.RegisterOracle(ctx, identity, fee)
}

func (l *Local) OracleIndices(_ context.Context, identity string) (model.IndexSet, error) {
	return l.contract.OracleIndices(identity)
}

func (l *Local) SubmitResponse(ctx context.Context, resp model.Response) (protocol.Outcome, error) {
	return l.contract.SubmitResponse(ctx, resp)
}
