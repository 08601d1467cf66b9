package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"empty", []float32{}, []float32{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
			assert.InDelta(t, Cosine(tt.a, tt.b), Cosine(tt.b, tt.a), 1e-12)
		})
	}
}

func TestSimilarity_ClampsNegative(t *testing.T) {
	assert.Equal(t, 0.0, Similarity([]float32{1, 0}, []float32{-1, 0}))
}

func TestCosine_DimensionMismatchPanics(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	}()
	Cosine([]float32{1, 2, 3}, []float32{1, 2})
}

func TestNormalizeAndMean(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, Normalize(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	assert.False(t, Normalize([]float32{0, 0}))
	assert.True(t, IsZero([]float32{0, 0}))

	mean := Mean([][]float32{{1, 0}, {0, 1}})
	assert.Equal(t, []float32{0.5, 0.5}, mean)
	assert.Nil(t, Mean(nil))
}
