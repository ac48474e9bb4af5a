// Package entropy provides the pseudo-random draws used for index assignment
// and request sharding. Draws are derived from explicit seed material so that
// tests can replace the source with a fixed sequence.
package entropy

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// Source produces a pseudo-random value from caller-supplied seed material
type Source interface {
	Draw(seed ...[]byte) uint64
}

// StateFunc returns the current external chain state (e.g. the event log head)
type StateFunc func() []byte

// Chain hashes the chain state, a monotonically increasing nonce and the seed.
// The nonce keeps repeated draws within one chain state distinct.
type Chain struct {
	state StateFunc
	nonce atomic.Uint64
}

// NewChain creates a source bound to the given chain state
func NewChain(state StateFunc) *Chain {
	if state == nil {
		state = func() []byte { return nil }
	}
	return &Chain{state: state}
}

// Draw returns the first 8 bytes of sha256(state || nonce || seed...)
func (c *Chain) Draw(seed ...[]byte) uint64 {
	h := sha256.New()
	h.Write(c.state())

	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], c.nonce.Add(1))
	h.Write(nonce[:])

	for _, s := range seed {
		h.Write(s)
	}

	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// Sequence replays fixed values in order, wrapping around. Seed material is ignored.
type Sequence struct {
	mu     sync.Mutex
	values []uint64
	next   int
}

// NewSequence creates a source that returns values in order
func NewSequence(values ...uint64) *Sequence {
	if len(values) == 0 {
		values = []uint64{0}
	}
	return &Sequence{values: values}
}

// Draw returns the next value of the sequence
func (s *Sequence) Draw(_ ...[]byte) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.values[s.next]
	s.next = (s.next + 1) % len(s.values)
	return v
}

// Index draws a value in [0, n)
func Index(src Source, n int, seed ...[]byte) int {
	if n <= 0 {
		return 0
	}
	return int(src.Draw(seed...) % uint64(n))
}
