package simulator

import (
	"context"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/feed"
	"github.com/ppiankov/surety/internal/model"
	"github.com/ppiankov/surety/internal/oracle"
	"github.com/ppiankov/surety/internal/protocol"
	"github.com/ppiankov/surety/internal/worker"
	"github.com/shopspring/decimal"
)

// registerJob registers one identity, or recovers its indices if it already is
type registerJob struct {
	chain    Chain
	identity string
	fee      decimal.Decimal
}

type registerResult struct {
	identity string
	indices  model.IndexSet
	reused   bool
	err      error
}

func (r *registerResult) GetError() error { return r.err }

func (j *registerJob) Execute(ctx context.Context) worker.Result {
	res := &registerResult{identity: j.identity}

	indices, err := j.chain.RegisterOracle(ctx, j.identity, j.fee)
	if errors.Is(err, oracle.ErrAlreadyRegistered) {
		res.reused = true
		indices, err = j.chain.OracleIndices(ctx, j.identity)
	}
	if err != nil {
		res.err = errors.Wrapf(err, "register %s", j.identity)
		return res
	}
	res.indices = indices
	return res
}

// submitJob answers one status request as one oracle
type submitJob struct {
	chain    Chain
	policy   feed.Policy
	identity string
	event    model.StatusRequested
}

type submitResult struct {
	identity string
	status   model.StatusCode
	outcome  protocol.Outcome
	err      error
}

func (r *submitResult) GetError() error { return r.err }

func (j *submitJob) LimitKey() string { return j.identity }

func (j *submitJob) Execute(ctx context.Context) worker.Result {
	res := &submitResult{identity: j.identity}

	status, err := j.policy.Status(ctx, j.event, j.identity)
	if err != nil {
		res.err = errors.Wrap(err, "policy")
		return res
	}
	res.status = status

	res.outcome, res.err = j.chain.SubmitResponse(ctx, model.Response{
		RequestKey: j.event.Key(),
		Status:     status,
		Identity:   j.identity,
	})
	return res
}
