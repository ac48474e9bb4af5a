package simulator

import (
	"sort"
	"sync"

	"github.com/ppiankov/surety/internal/model"
)

// Pool holds the identities this process operates and their assigned indices
type Pool struct {
	mu      sync.RWMutex
	oracles map[string]model.IndexSet
}

// NewPool creates an empty pool
func NewPool() *Pool {
	return &Pool{oracles: make(map[string]model.IndexSet)}
}

// Put records identity's indices
func (p *Pool) Put(identity string, indices model.IndexSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oracles[identity] = indices
}

// Reset forgets every identity
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oracles = make(map[string]model.IndexSet)
}

// Indices returns identity's indices
func (p *Pool) Indices(identity string) (model.IndexSet, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.oracles[identity]
	return s, ok
}

// Holders returns the identities holding index, sorted
func (p *Pool) Holders(index int) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []string
	for id, s := range p.oracles {
		if s.Contains(index) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of identities
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.oracles)
}
