package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChain_DeterministicForSameInputs(t *testing.T) {
	state := func() []byte { return []byte("head-1") }

	a := NewChain(state)
	b := NewChain(state)

	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Draw([]byte("oracle-1")), b.Draw([]byte("oracle-1")))
	}
}

func TestChain_NonceVariesDraws(t *testing.T) {
	c := NewChain(func() []byte { return []byte("head") })

	first := c.Draw([]byte("x"))
	second := c.Draw([]byte("x"))
	assert.NotEqual(t, first, second)
}

func TestChain_SeedAndStateMatter(t *testing.T) {
	a := NewChain(func() []byte { return []byte("head-a") })
	b := NewChain(func() []byte { return []byte("head-b") })
	assert.NotEqual(t, a.Draw([]byte("x")), b.Draw([]byte("x")))

	c := NewChain(nil)
	d := NewChain(nil)
	assert.NotEqual(t, c.Draw([]byte("x")), d.Draw([]byte("y")))
}

func TestSequence_Wraps(t *testing.T) {
	s := NewSequence(1, 2, 3)
	got := []uint64{s.Draw(), s.Draw(), s.Draw(), s.Draw()}
	assert.Equal(t, []uint64{1, 2, 3, 1}, got)

	empty := NewSequence()
	assert.Equal(t, uint64(0), empty.Draw())
}

func TestIndex_Range(t *testing.T) {
	c := NewChain(func() []byte { return []byte("head") })
	for i := 0; i < 200; i++ {
		idx := Index(c, 10, []byte("seed"))
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 10)
	}

	assert.Equal(t, 7, Index(NewSequence(17), 10))
	assert.Equal(t, 0, Index(NewSequence(17), 0))
}
