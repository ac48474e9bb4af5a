package protocol

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/model"
)

// request is one status request. Its mutex is the per-key critical section:
// validation, recording, resolution and settlement all happen under it.
type request struct {
	mu         sync.Mutex
	key        model.RequestKey
	state      model.RequestState
	responses  map[model.StatusCode][]string
	submitters map[string]model.StatusCode
	resolved   model.StatusCode
}

func newRequest(key model.RequestKey) *request {
	return &request{
		key:        key,
		state:      model.RequestOpen,
		responses:  make(map[model.StatusCode][]string),
		submitters: make(map[string]model.StatusCode),
	}
}

// view must be called with r.mu held
func (r *request) view() model.RequestView {
	v := model.RequestView{
		Key:       r.key,
		State:     r.state,
		Responses: make(map[model.StatusCode][]string, len(r.responses)),
	}
	for code, ids := range r.responses {
		v.Responses[code] = append([]string(nil), ids...)
	}
	if r.state == model.RequestResolved {
		status := r.resolved
		v.ResolvedStatus = &status
	}
	return v
}

// Store holds every status request ever created. Requests are never deleted.
type Store struct {
	mu       sync.RWMutex
	requests map[model.RequestKey]*request
}

// NewStore creates an empty request store
func NewStore() *Store {
	return &Store{requests: make(map[model.RequestKey]*request)}
}

// getOrCreate atomically returns the request for key, creating it OPEN if missing
func (s *Store) getOrCreate(key model.RequestKey) (*request, bool) {
	s.mu.RLock()
	r, ok := s.requests[key]
	s.mu.RUnlock()
	if ok {
		return r, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if r, ok := s.requests[key]; ok {
		return r, false
	}
	r = newRequest(key)
	s.requests[key] = r
	return r, true
}

func (s *Store) get(key model.RequestKey) (*request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[key]
	return r, ok
}

// View returns a snapshot of the request for key
func (s *Store) View(key model.RequestKey) (model.RequestView, error) {
	r, ok := s.get(key)
	if !ok {
		return model.RequestView{}, errors.Wrapf(ErrNoSuchRequest, "request %s", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view(), nil
}

// ForFlight returns snapshots of every request created for flight, ordered by index
func (s *Store) ForFlight(flight model.FlightKey) []model.RequestView {
	s.mu.RLock()
	matches := make([]*request, 0)
	for key, r := range s.requests {
		if key.FlightKey == flight {
			matches = append(matches, r)
		}
	}
	s.mu.RUnlock()

	views := make([]model.RequestView, 0, len(matches))
	for _, r := range matches {
		r.mu.Lock()
		views = append(views, r.view())
		r.mu.Unlock()
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key.Index < views[j].Key.Index })
	return views
}

// Len returns the number of stored requests
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}
