package intensity

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-pose/fields"
)

func TestAccumulatorPeakAtRow(t *testing.T) {
	acc := New(1, 32, 32, Options{})
	acc.Add(0, []fields.IntensityRow{{C: 1, X: 10, Y: 12, B: 1}}, 0)

	assert.InDelta(t, 1.0/DefaultPifNN, acc.Value(0, 10, 12), 1e-6)
	assert.Less(t, acc.Value(0, 11, 12), acc.Value(0, 10, 12))
	assert.Zero(t, acc.Value(0, 25, 25))

	px, py, v := acc.Peak(0, 11, 11, 3)
	assert.Equal(t, float32(10), px)
	assert.Equal(t, float32(12), py)
	assert.InDelta(t, 1.0/DefaultPifNN, v, 1e-6)
}

func TestAccumulatorTighterSpreadIsSharper(t *testing.T) {
	acc := New(2, 64, 64, Options{})
	acc.Add(0, []fields.IntensityRow{{C: 0.8, X: 30, Y: 30, B: 1}}, 0)
	acc.Add(1, []fields.IntensityRow{{C: 0.8, X: 30, Y: 30, B: 8}}, 0)

	assert.Greater(t, acc.Value(0, 30, 30), acc.Value(1, 30, 30))
	// The wide kernel still reaches further out.
	assert.Zero(t, acc.Value(0, 30, 36))
	assert.Greater(t, acc.Value(1, 30, 36), float32(0))
}

func TestAccumulatorSaturates(t *testing.T) {
	acc := New(1, 16, 16, Options{PifNN: 2})
	rows := make([]fields.IntensityRow, 10)
	for i := range rows {
		rows[i] = fields.IntensityRow{C: 1, X: 8, Y: 8, B: 1}
	}
	acc.Add(0, rows, 0)

	assert.Equal(t, float32(1), acc.Value(0, 8, 8))
	m := acc.Map(0)
	require.Len(t, m, 256)
	for _, v := range m {
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestAccumulatorOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	rows := make([]fields.IntensityRow, 200)
	for i := range rows {
		rows[i] = fields.IntensityRow{
			C: 0.2 + 0.8*rng.Float32(),
			X: 40 * rng.Float32(),
			Y: 40 * rng.Float32(),
			B: 0.5 + 4*rng.Float32(),
		}
	}
	shuffled := make([]fields.IntensityRow, len(rows))
	copy(shuffled, rows)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	a := New(1, 40, 40, Options{PifNN: 64})
	a.Add(0, rows, 0)
	b := New(1, 40, 40, Options{PifNN: 64})
	b.Add(0, shuffled[:100], 0)
	b.Add(0, shuffled[100:], 0)

	ma, mb := a.Map(0), b.Map(0)
	for i := range ma {
		assert.InDelta(t, ma[i], mb[i], 1e-5)
	}
}

func TestAccumulatorFilters(t *testing.T) {
	acc := New(1, 16, 16, Options{})
	acc.Add(0, []fields.IntensityRow{
		{C: 0.05, X: 4, Y: 4, B: 1},            // below min confidence
		{C: 0.9, X: 8, Y: 8, B: 1, Scale: 1},   // below min scale
		{C: 0.9, X: 12, Y: 12, B: 1, Scale: 5}, // kept
	}, 2)

	assert.Zero(t, acc.Value(0, 4, 4))
	assert.Zero(t, acc.Value(0, 8, 8))
	assert.Greater(t, acc.Value(0, 12, 12), float32(0))

	// Out of range joints and out of frame rows are ignored.
	acc.Add(3, []fields.IntensityRow{{C: 1, X: 1, Y: 1, B: 1}}, 0)
	acc.Add(0, []fields.IntensityRow{{C: 1, X: -50, Y: 300, B: 1}}, 0)
	assert.Zero(t, acc.Value(3, 1, 1))
}

func TestAccumulatorCentroid(t *testing.T) {
	acc := New(1, 32, 32, Options{})
	acc.AddAll([][]fields.IntensityRow{{
		{C: 1, X: 10, Y: 10, B: 1},
		{C: 1, X: 12, Y: 10, B: 1},
	}}, 0)

	cx, cy, peak := acc.Centroid(0, 11, 10, 4)
	assert.InDelta(t, 11, cx, 1e-4)
	assert.InDelta(t, 10, cy, 1e-4)
	assert.Greater(t, peak, float32(0))

	cx, cy, peak = acc.Centroid(0, 28, 28, 2)
	assert.Equal(t, float32(28), cx)
	assert.Equal(t, float32(28), cy)
	assert.Zero(t, peak)
}

func TestAccumulatorBilinear(t *testing.T) {
	acc := New(1, 8, 8, Options{PifNN: 1, MinConfidence: 0.01})
	// A wide spread gives a nearly flat local surface; check interpolation
	// stays between its neighbours.
	acc.Add(0, []fields.IntensityRow{{C: 0.5, X: 3, Y: 3, B: 1}}, 0)
	mid := acc.Value(0, 3.5, 3)
	assert.Less(t, mid, acc.Value(0, 3, 3))
	assert.Greater(t, mid, acc.Value(0, 4, 3))
}
