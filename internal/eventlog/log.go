// Package eventlog implements the append-only public event log.
//
// Every entry is hash-chained to its predecessor and carries a sequence
// number. Observers subscribe from a sequence and resume from the last one
// they confirmed after a disconnect.
package eventlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/model"
)

const genesisHash = "genesis"

// Entry is an immutable, hash-chained log entry
type Entry struct {
	Sequence  uint64          `json:"sequence"`
	Type      model.EventType `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// Decode unmarshals the entry payload into v
func (e Entry) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Wrapf(err, "decode %s #%d", e.Type, e.Sequence)
	}
	return nil
}

// Store persists entries in sequence order
type Store interface {
	Append(ctx context.Context, e Entry) error
	Since(ctx context.Context, after uint64, limit int) ([]Entry, error)
	Last(ctx context.Context) (Entry, bool, error)
}

// Publisher appends typed events to the log
type Publisher interface {
	Publish(ctx context.Context, typ model.EventType, payload any) (Entry, error)
}

// Log is the public event log
type Log struct {
	mu     sync.Mutex
	store  Store
	seq    uint64
	head   string
	notify chan struct{}
	clock  func() time.Time
}

// Open creates a log on top of store, continuing from its last entry
func Open(ctx context.Context, store Store) (*Log, error) {
	l := &Log{
		store:  store,
		head:   genesisHash,
		notify: make(chan struct{}),
		clock:  time.Now,
	}

	last, ok, err := store.Last(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load log head")
	}
	if ok {
		l.seq = last.Sequence
		l.head = last.Hash
	}

	return l, nil
}

// NewMemoryLog creates a log backed by an in-memory store
func NewMemoryLog() *Log {
	l, _ := Open(context.Background(), NewMemoryStore())
	return l
}

// WithClock overrides the clock for testing
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Publish appends a typed event and wakes subscribers
func (l *Log) Publish(ctx context.Context, typ model.EventType, payload any) (Entry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "encode %s", typ)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Sequence:  l.seq + 1,
		Type:      typ,
		Data:      data,
		Timestamp: l.clock().UTC(),
		PrevHash:  l.head,
	}
	e.Hash = hashEntry(e)

	if err := l.store.Append(ctx, e); err != nil {
		return Entry{}, errors.Wrapf(err, "append %s", typ)
	}

	l.seq = e.Sequence
	l.head = e.Hash
	close(l.notify)
	l.notify = make(chan struct{})

	return e, nil
}

// Since returns up to limit entries with sequence greater than after
func (l *Log) Since(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	return l.store.Since(ctx, after, limit)
}

// Head returns the last sequence and its hash
func (l *Log) Head() (uint64, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq, l.head
}

// State returns the head as seed material for entropy draws
func (l *Log) State() []byte {
	seq, hash := l.Head()
	return []byte(strconv.FormatUint(seq, 10) + ":" + hash)
}

// Wait blocks until an entry after the given sequence exists
func (l *Log) Wait(ctx context.Context, after uint64) error {
	for {
		l.mu.Lock()
		seq, ch := l.seq, l.notify
		l.mu.Unlock()

		if seq > after {
			return nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscribe streams entries after the given sequence until ctx is done.
// The channel is closed when the stream ends.
func (l *Log) Subscribe(ctx context.Context, after uint64) (<-chan Entry, error) {
	out := make(chan Entry, 64)

	go func() {
		defer close(out)

		cursor := after
		for {
			entries, err := l.Since(ctx, cursor, 256)
			if err != nil {
				return
			}
			for _, e := range entries {
				select {
				case out <- e:
					cursor = e.Sequence
				case <-ctx.Done():
					return
				}
			}
			if len(entries) > 0 {
				continue
			}
			if err := l.Wait(ctx, cursor); err != nil {
				return
			}
		}
	}()

	return out, nil
}

// Verify walks the whole log and checks sequence continuity and hash links
func (l *Log) Verify(ctx context.Context) error {
	prev := genesisHash
	var cursor uint64

	for {
		entries, err := l.store.Since(ctx, cursor, 512)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, e := range entries {
			if e.Sequence != cursor+1 {
				return fmt.Errorf("sequence gap: expected %d, got %d", cursor+1, e.Sequence)
			}
			if e.PrevHash != prev {
				return fmt.Errorf("entry %d: broken link", e.Sequence)
			}
			if hashEntry(e) != e.Hash {
				return fmt.Errorf("entry %d: hash mismatch", e.Sequence)
			}
			prev = e.Hash
			cursor = e.Sequence
		}
	}
}

func hashEntry(e Entry) string {
	input := struct {
		Seq       uint64          `json:"seq"`
		Type      model.EventType `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp string          `json:"ts"`
		PrevHash  string          `json:"prev"`
	}{e.Sequence, e.Type, e.Data, e.Timestamp.UTC().Format(time.RFC3339Nano), e.PrevHash}

	raw, _ := json.Marshal(input)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
