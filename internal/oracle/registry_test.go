package oracle

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/ppiankov/surety/internal/common"
	"github.com/ppiankov/surety/internal/entropy"
	"github.com/ppiankov/surety/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fee = decimal.NewFromInt(1)

func TestRegistry_RegisterAssignsFixedIndices(t *testing.T) {
	r := NewRegistry(10, fee, entropy.NewSequence(3, 14, 25))

	o, err := r.Register("oracle-1", fee)
	require.NoError(t, err)
	assert.Equal(t, model.IndexSet{3, 4, 5}, o.Indices)

	for i := 0; i < 3; i++ {
		got, err := r.Indices("oracle-1")
		require.NoError(t, err)
		assert.Equal(t, o.Indices, got)
	}
}

func TestRegistry_DuplicatesWithinSetAreKept(t *testing.T) {
	r := NewRegistry(10, fee, entropy.NewSequence(7, 17, 2))

	o, err := r.Register("oracle-1", fee)
	require.NoError(t, err)
	assert.Equal(t, model.IndexSet{7, 7, 2}, o.Indices)
}

func TestRegistry_AlreadyRegistered(t *testing.T) {
	r := NewRegistry(10, fee, entropy.NewSequence(1, 2, 3, 4, 5, 6))
	first, err := r.Register("oracle-1", fee)
	require.NoError(t, err)

	_, err = r.Register("oracle-1", fee)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, common.KindConflict, common.KindOf(err))

	got, _ := r.Indices("oracle-1")
	assert.Equal(t, first.Indices, got, "indices must not change on a second attempt")
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_InsufficientFee(t *testing.T) {
	r := NewRegistry(10, fee, entropy.NewSequence(1))

	_, err := r.Register("oracle-1", decimal.RequireFromString("0.99"))
	assert.ErrorIs(t, err, ErrInsufficientFee)
	assert.Equal(t, common.KindValidation, common.KindOf(err))

	_, err = r.Indices("oracle-1")
	assert.ErrorIs(t, err, ErrUnknownOracle)
}

func TestRegistry_OverpaymentAccepted(t *testing.T) {
	r := NewRegistry(10, fee, entropy.NewSequence(1))
	_, err := r.Register("oracle-1", decimal.NewFromInt(5))
	assert.NoError(t, err)
}

func TestRegistry_IndicesInRangeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("indices lie in [0, N) and never change", prop.ForAll(
		func(n int, head string, oracles int) bool {
			state := func() []byte { return []byte(head) }
			r := NewRegistry(n, fee, entropy.NewChain(state))

			for i := 0; i < oracles; i++ {
				id := fmt.Sprintf("oracle-%d", i)
				o, err := r.Register(id, fee)
				if err != nil {
					return false
				}
				for _, idx := range o.Indices {
					if idx < 0 || idx >= n {
						return false
					}
				}
				again, err := r.Indices(id)
				if err != nil || again != o.Indices {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 50),
		gen.AlphaString(),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
