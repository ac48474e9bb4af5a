package eventlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps entries in a slice
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make([]Entry, 0)}
}

// Append adds an entry; sequences must be contiguous
func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if want := uint64(len(s.entries)) + 1; e.Sequence != want {
		return fmt.Errorf("append out of order: expected %d, got %d", want, e.Sequence)
	}
	s.entries = append(s.entries, e)
	return nil
}

// Since returns up to limit entries after the given sequence
func (s *MemoryStore) Since(_ context.Context, after uint64, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Sequence > after
	})
	end := len(s.entries)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]Entry, end-start)
	copy(out, s.entries[start:end])
	return out, nil
}

// Last returns the newest entry
func (s *MemoryStore) Last(_ context.Context) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return Entry{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}
