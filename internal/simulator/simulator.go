// Package simulator runs a pool of oracle identities against the contract.
//
// The simulator registers its identities, follows the event stream and, for
// every StatusRequested event, submits an answer from each identity holding
// the broadcast index. Conflicts such as already_resolved are normal and only
// logged. A dropped stream is resumed from the last fully handled event. When
// the contract behind the stream is replaced, the pool registers again and
// follows the new instance from its first entry.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/cache"
	"github.com/ppiankov/surety/internal/common"
	"github.com/ppiankov/surety/internal/eventlog"
	"github.com/ppiankov/surety/internal/feed"
	"github.com/ppiankov/surety/internal/model"
	"github.com/ppiankov/surety/internal/protocol"
	"github.com/ppiankov/surety/internal/worker"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Chain is the contract surface an oracle node talks to
type Chain interface {
	Info(ctx context.Context) (model.ChainInfo, error)
	RegistrationFee(ctx context.Context) (decimal.Decimal, error)
	RegisterOracle(ctx context.Context, identity string, fee decimal.Decimal) (model.IndexSet, error)
	OracleIndices(ctx context.Context, identity string) (model.IndexSet, error)
	SubmitResponse(ctx context.Context, resp model.Response) (protocol.Outcome, error)
}

// Subscriber streams events after a sequence number. The channel closes when
// the stream ends, whether by cancellation or transport failure.
type Subscriber interface {
	Subscribe(ctx context.Context, after uint64) (<-chan eventlog.Entry, error)
}

// Stats counts submission outcomes
type Stats struct {
	Registered int64 `json:"registered"`
	Events     int64 `json:"events"`
	Accepted   int64 `json:"accepted"`
	Resolved   int64 `json:"resolved"`
	Conflicts  int64 `json:"conflicts"`
	Rejected   int64 `json:"rejected"`
	Failed     int64 `json:"failed"`
	Reconnects int64 `json:"reconnects"`
}

// Simulator operates a pool of oracle identities
type Simulator struct {
	cfg        model.SimulatorConfig
	chain      Chain
	events     Subscriber
	policy     feed.Policy
	pool       *Pool
	batch      *worker.BatchProcessor
	checkpoint cache.Cache
	log        *zap.Logger

	// instance and ready are owned by the Run/Follow goroutine
	instance string
	ready    bool

	cursor atomic.Uint64
	stats  struct {
		registered, events, accepted, resolved atomic.Int64
		conflicts, rejected, failed, reconnect atomic.Int64
	}
}

// New creates a simulator. checkpoint may be nil to start from the beginning
// of the stream on every run.
func New(cfg model.SimulatorConfig, chain Chain, events Subscriber, policy feed.Policy, checkpoint cache.Cache, log *zap.Logger) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	if checkpoint == nil {
		checkpoint = cache.NewMemoryCache(cache.NoExpiration, time.Hour)
	}
	if cfg.IdentityPrefix == "" {
		cfg.IdentityPrefix = "oracle"
	}
	return &Simulator{
		cfg:        cfg,
		chain:      chain,
		events:     events,
		policy:     policy,
		pool:       NewPool(),
		batch:      worker.NewBatchProcessor(cfg.Workers, worker.NewLimiter(cfg.SubmitRate, cfg.SubmitBurst)),
		checkpoint: checkpoint,
		log:        log,
	}
}

// Pool returns the identities operated by the simulator
func (s *Simulator) Pool() *Pool {
	return s.pool
}

// Cursor returns the sequence of the last fully handled event
func (s *Simulator) Cursor() uint64 {
	return s.cursor.Load()
}

// Stats returns a snapshot of the counters
func (s *Simulator) Stats() Stats {
	return Stats{
		Registered: s.stats.registered.Load(),
		Events:     s.stats.events.Load(),
		Accepted:   s.stats.accepted.Load(),
		Resolved:   s.stats.resolved.Load(),
		Conflicts:  s.stats.conflicts.Load(),
		Rejected:   s.stats.rejected.Load(),
		Failed:     s.stats.failed.Load(),
		Reconnects: s.stats.reconnect.Load(),
	}
}

// Identity returns the name of the i-th identity, counting from 1
func (s *Simulator) Identity(i int) string {
	return fmt.Sprintf("%s-%02d", s.cfg.IdentityPrefix, i)
}

// Register registers the configured number of identities, paying the current
// fee for each. Identities registered by an earlier run are reused.
func (s *Simulator) Register(ctx context.Context) error {
	fee, err := s.chain.RegistrationFee(ctx)
	if err != nil {
		return errors.Wrap(err, "read registration fee")
	}

	jobs := make([]worker.Job, 0, s.cfg.Oracles)
	for i := 1; i <= s.cfg.Oracles; i++ {
		jobs = append(jobs, &registerJob{chain: s.chain, identity: s.Identity(i), fee: fee})
	}

	var errs []error
	for _, r := range worker.NewBatchProcessor(s.cfg.Workers, nil).Process(ctx, jobs) {
		res, ok := r.(*registerResult)
		if !ok {
			errs = append(errs, r.GetError())
			continue
		}
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		s.pool.Put(res.identity, res.indices)
		s.stats.registered.Add(1)
		s.log.Debug("oracle ready",
			zap.String("oracle", res.identity),
			zap.Ints("indices", res.indices[:]),
			zap.Bool("reused", res.reused))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(errs) > 0 {
		return errors.Wrapf(errs[0], "%d of %d registrations failed", len(errs), s.cfg.Oracles)
	}

	s.log.Info("oracles registered", zap.Int("count", s.pool.Len()), zap.String("fee", fee.String()))
	return nil
}

// Run registers the pool and follows the event stream until ctx is done
func (s *Simulator) Run(ctx context.Context) error {
	s.loadCheckpoint()
	if err := s.sync(ctx); err != nil {
		return err
	}
	return s.Follow(ctx)
}

// sync checks which contract instance the chain is running. A new instance,
// or a log that is behind the cursor, means the old registrations and cursor
// are void: the pool registers again and the cursor moves to the instance start.
func (s *Simulator) sync(ctx context.Context) error {
	info, err := s.chain.Info(ctx)
	if err != nil {
		return common.WithCause(common.ErrTransport, err)
	}

	switch {
	case info.Instance != s.instance:
		if s.instance != "" {
			s.log.Warn("contract instance changed, registering again",
				zap.String("previous", s.instance),
				zap.String("instance", info.Instance),
				zap.Uint64("start", info.Start))
		}
		s.instance = info.Instance
		s.cursor.Store(info.Start)
		s.ready = false
	case info.Head < s.Cursor():
		s.log.Warn("event log is behind the cursor, starting over",
			zap.Uint64("cursor", s.Cursor()),
			zap.Uint64("head", info.Head),
			zap.Uint64("start", info.Start))
		s.cursor.Store(info.Start)
		s.ready = false
	}

	if s.ready {
		return nil
	}
	s.pool.Reset()
	if err := s.Register(ctx); err != nil {
		return err
	}
	s.ready = true
	s.saveCheckpoint(s.Cursor())
	return nil
}

// Follow consumes events from the current cursor, reconnecting on failure
func (s *Simulator) Follow(ctx context.Context) error {
	for {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}

		s.stats.reconnect.Add(1)
		s.log.Warn("event stream interrupted, reconnecting",
			zap.Uint64("after", s.Cursor()),
			zap.Duration("delay", s.cfg.ReconnectDelay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Simulator) consume(ctx context.Context) error {
	if err := s.sync(ctx); err != nil {
		return err
	}
	ch, err := s.events.Subscribe(ctx, s.Cursor())
	if err != nil {
		return common.WithCause(common.ErrTransport, err)
	}

	for e := range ch {
		if e.Sequence <= s.Cursor() {
			continue
		}
		s.handle(ctx, e)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.cursor.Store(e.Sequence)
		s.saveCheckpoint(e.Sequence)
	}
	return errors.Wrap(common.ErrTransport, "stream closed")
}

func (s *Simulator) handle(ctx context.Context, e eventlog.Entry) {
	switch e.Type {
	case model.EventStatusRequested:
		var ev model.StatusRequested
		if err := e.Decode(&ev); err != nil {
			s.log.Error("decode event", zap.Uint64("seq", e.Sequence), zap.Error(err))
			return
		}
		s.stats.events.Add(1)
		s.answer(ctx, ev)
	case model.EventStatusResolved:
		var ev model.StatusResolved
		if err := e.Decode(&ev); err == nil {
			s.log.Info("flight status resolved",
				zap.String("flight", model.FlightKey{Airline: ev.Airline, Flight: ev.Flight, Timestamp: ev.Timestamp}.String()),
				zap.Stringer("status", ev.StatusCode))
		}
	}
}

// answer submits a response from every held identity matching the event index
func (s *Simulator) answer(ctx context.Context, ev model.StatusRequested) {
	holders := s.pool.Holders(ev.Index)
	if len(holders) == 0 {
		s.log.Debug("no oracle holds index", zap.Stringer("request", ev.Key()))
		return
	}

	jobs := make([]worker.Job, 0, len(holders))
	for _, id := range holders {
		jobs = append(jobs, &submitJob{chain: s.chain, policy: s.policy, identity: id, event: ev})
	}

	for _, r := range s.batch.Process(ctx, jobs) {
		res, ok := r.(*submitResult)
		if !ok {
			s.stats.failed.Add(1)
			s.log.Warn("submission not attempted", zap.Stringer("request", ev.Key()), zap.Error(r.GetError()))
			continue
		}
		s.record(ev, res)
	}
}

func (s *Simulator) record(ev model.StatusRequested, res *submitResult) {
	fields := []zap.Field{
		zap.Stringer("request", ev.Key()),
		zap.String("oracle", res.identity),
		zap.Stringer("status", res.status),
	}

	switch kind := common.KindOf(res.err); {
	case res.err == nil:
		s.stats.accepted.Add(1)
		if res.outcome.Resolved {
			s.stats.resolved.Add(1)
		}
		s.log.Debug("response accepted", append(fields, zap.Int("tally", res.outcome.Tally))...)
	case kind == common.KindConflict:
		s.stats.conflicts.Add(1)
		s.log.Debug("response not needed", append(fields, zap.String("reason", common.CodeOf(res.err)))...)
	case kind == common.KindValidation:
		s.stats.rejected.Add(1)
		s.log.Warn("response rejected", append(fields, zap.Error(res.err))...)
	default:
		s.stats.failed.Add(1)
		s.log.Error("response failed", append(fields, zap.Error(res.err))...)
	}
}

type checkpointState struct {
	Instance string `json:"instance"`
	After    uint64 `json:"after"`
}

func (s *Simulator) checkpointKey() string {
	return cache.Key("checkpoint", s.cfg.IdentityPrefix)
}

// loadCheckpoint restores the instance and cursor of an earlier run
func (s *Simulator) loadCheckpoint() {
	b, ok := s.checkpoint.Get(s.checkpointKey())
	if !ok {
		return
	}
	var st checkpointState
	if err := json.Unmarshal(b, &st); err != nil {
		s.log.Warn("ignoring corrupt checkpoint", zap.Error(err))
		return
	}
	s.log.Info("resuming from checkpoint", zap.String("instance", st.Instance), zap.Uint64("after", st.After))
	s.instance = st.Instance
	s.cursor.Store(st.After)
}

func (s *Simulator) saveCheckpoint(after uint64) {
	b, _ := json.Marshal(checkpointState{Instance: s.instance, After: after})
	if err := s.checkpoint.Set(s.checkpointKey(), b, -1); err != nil {
		s.log.Warn("save checkpoint", zap.Error(err))
	}
}
