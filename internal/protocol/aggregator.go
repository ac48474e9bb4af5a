// Package protocol implements request broadcasting and response aggregation.
//
// A request resolves the instant any status code collects quorum responses
// from distinct oracles. Dissenting codes are never recounted: the first code
// to reach quorum wins, even if another code would later gather more reports.
package protocol

import (
	"context"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/common"
	"github.com/ppiankov/surety/internal/eventlog"
	"github.com/ppiankov/surety/internal/model"
	"github.com/ppiankov/surety/internal/settlement"
	"go.uber.org/zap"
)

var (
	ErrIndexNotHeld        = common.Register(common.KindValidation, "index_not_held", "index is not assigned to this oracle")
	ErrNoSuchRequest       = common.Register(common.KindValidation, "no_such_request", "no open request for this key")
	ErrInvalidStatus       = common.Register(common.KindValidation, "invalid_status", "status code is not defined")
	ErrAlreadyResolved     = common.Register(common.KindConflict, "already_resolved", "request is already resolved")
	ErrDuplicateSubmission = common.Register(common.KindConflict, "duplicate_submission", "oracle already responded to this request")
)

// Oracles answers registration and index membership questions
type Oracles interface {
	Indices(identity string) (model.IndexSet, error)
}

// Settler is invoked exactly once per resolved request
type Settler interface {
	SettleFlight(ctx context.Context, flight model.FlightKey, status model.StatusCode) (settlement.Report, error)
}

// Outcome describes an accepted submission
type Outcome struct {
	Key      model.RequestKey   `json:"key"`
	Tally    int                `json:"tally"` // responses recorded for the submitted code
	Resolved bool               `json:"resolved"`
	Status   model.StatusCode   `json:"status_code"`
	Report   *settlement.Report `json:"settlement,omitempty"`
}

// Aggregator validates and tallies oracle responses
type Aggregator struct {
	store   *Store
	oracles Oracles
	settler Settler
	events  eventlog.Publisher
	quorum  int
	log     *zap.Logger
}

// NewAggregator creates an aggregator resolving at quorum matching responses
func NewAggregator(store *Store, oracles Oracles, settler Settler, events eventlog.Publisher, quorum int, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		store:   store,
		oracles: oracles,
		settler: settler,
		events:  events,
		quorum:  quorum,
		log:     log,
	}
}

// Submit records one oracle response. Rejections are checked in order:
// unknown oracle, index not held, no such request, already resolved, duplicate.
func (a *Aggregator) Submit(ctx context.Context, resp model.Response) (Outcome, error) {
	if !resp.Status.Valid() {
		return Outcome{}, errors.Wrapf(ErrInvalidStatus, "status %d", uint8(resp.Status))
	}

	indices, err := a.oracles.Indices(resp.Identity)
	if err != nil {
		return Outcome{}, err
	}
	if !indices.Contains(resp.Index) {
		return Outcome{}, errors.Wrapf(ErrIndexNotHeld, "oracle %s holds %v, not %d", resp.Identity, indices, resp.Index)
	}

	req, ok := a.store.get(resp.RequestKey)
	if !ok {
		return Outcome{}, errors.Wrapf(ErrNoSuchRequest, "request %s", resp.RequestKey)
	}

	req.mu.Lock()
	defer req.mu.Unlock()

	if req.state == model.RequestResolved {
		return Outcome{}, errors.Wrapf(ErrAlreadyResolved, "request %s resolved as %s", req.key, req.resolved)
	}
	if prev, dup := req.submitters[resp.Identity]; dup {
		return Outcome{}, errors.Wrapf(ErrDuplicateSubmission, "oracle %s already reported %s", resp.Identity, prev)
	}

	req.submitters[resp.Identity] = resp.Status
	req.responses[resp.Status] = append(req.responses[resp.Status], resp.Identity)
	tally := len(req.responses[resp.Status])

	out := Outcome{Key: req.key, Tally: tally, Status: resp.Status}

	a.log.Debug("response recorded",
		zap.Stringer("request", req.key),
		zap.String("oracle", resp.Identity),
		zap.Stringer("status", resp.Status),
		zap.Int("tally", tally))

	if tally != a.quorum {
		return out, nil
	}

	req.state = model.RequestResolved
	req.resolved = resp.Status
	out.Resolved = true

	a.log.Info("request resolved",
		zap.Stringer("request", req.key),
		zap.Stringer("status", resp.Status))

	if _, err := a.events.Publish(ctx, model.EventStatusResolved, model.StatusResolved{
		Airline:    req.key.Airline,
		Flight:     req.key.Flight,
		Timestamp:  req.key.Timestamp,
		StatusCode: resp.Status,
	}); err != nil {
		a.log.Error("publish resolution", zap.Stringer("request", req.key), zap.Error(err))
	}

	report, err := a.settler.SettleFlight(ctx, req.key.FlightKey, resp.Status)
	out.Report = &report
	if err != nil {
		// The resolution stands; unsettled purchases can be retried.
		a.log.Error("settlement incomplete", zap.Stringer("request", req.key), zap.Error(err))
	}

	return out, nil
}
