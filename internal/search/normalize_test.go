package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 1: normalization basic.
func TestNormalizeScores_Basic(t *testing.T) {
	in := []Scored[string, float64]{
		{Item: "a", Score: 0.3},
		{Item: "b", Score: 0.6},
		{Item: "c", Score: 0.9},
	}

	out := NormalizeScores(in)

	require.Len(t, out, 3)
	assert.InDelta(t, 0.0, out[0].Score, 1e-3)
	assert.InDelta(t, 0.5, out[1].Score, 1e-3)
	assert.InDelta(t, 1.0, out[2].Score, 1e-3)
	// Order preserved.
	assert.Equal(t, "a", out[0].Item)
	assert.Equal(t, "c", out[2].Item)
}

func TestNormalizeScores_Empty(t *testing.T) {
	out := NormalizeScores[string, float64](nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestNormalizeScores_Single(t *testing.T) {
	in := []Scored[string, float32]{{Item: "only", Score: 0.42}}
	out := NormalizeScores(in)
	require.Len(t, out, 1)
	assert.Equal(t, float32(1.0), out[0].Score)
}

func TestNormalizeScores_AllEqual(t *testing.T) {
	in := []Scored[string, float64]{
		{Item: "a", Score: 0},
		{Item: "b", Score: 0},
	}
	out := NormalizeScores(in)
	for _, o := range out {
		assert.Equal(t, 1.0, o.Score)
	}
}

func TestNormalizeScores_DoesNotMutateInput(t *testing.T) {
	in := []Scored[string, float64]{{Item: "a", Score: 0.3}, {Item: "b", Score: 0.9}}
	_ = NormalizeScores(in)
	assert.Equal(t, 0.3, in[0].Score)
	assert.Equal(t, 0.9, in[1].Score)
}

func TestNormalizeScores_Idempotent(t *testing.T) {
	in := []Scored[string, float64]{
		{Item: "a", Score: 0.3}, {Item: "b", Score: 0.6}, {Item: "c", Score: 0.9},
	}
	once := NormalizeScores(in)
	twice := NormalizeScores(once)
	require.Len(t, twice, len(once))
	for i := range once {
		assert.InDelta(t, once[i].Score, twice[i].Score, 1e-9)
	}
}

func TestNormalizeScores_PreservesOrderAndRange(t *testing.T) {
	in := []Scored[int, float64]{
		{Item: 1, Score: 5}, {Item: 2, Score: 1}, {Item: 3, Score: 3}, {Item: 4, Score: 9},
	}
	out := NormalizeScores(in)
	require.Len(t, out, len(in))
	for i, o := range out {
		assert.Equal(t, in[i].Item, o.Item)
		assert.GreaterOrEqual(t, o.Score, 0.0)
		assert.LessOrEqual(t, o.Score, 1.0)
	}
}
