package embedding

import (
	"fmt"
	"math"
)

// Cosine returns the cosine similarity of a and b in [-1, 1].
// It returns 0 when either vector has zero magnitude.
//
// Cosine panics with an error wrapping ErrDimensionMismatch when the vectors
// have different lengths: mixing models is a programming error.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		panic(fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b)))
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Similarity is Cosine clamped to [0, 1].
func Similarity(a, b []float32) float64 {
	return Clamp01(Cosine(a, b))
}

// Normalize scales v to unit length in place. It returns false for a zero vector.
func Normalize(v []float32) bool {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return false
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
	return true
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Mean returns the component-wise average of vectors, which must all share
// the same dimension.
func Mean(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	out := make([]float32, dim)
	for _, v := range vectors {
		if len(v) != dim {
			panic(fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, dim, len(v)))
		}
		for i, x := range v {
			out[i] += x
		}
	}
	scale := 1 / float32(len(vectors))
	for i := range out {
		out[i] *= scale
	}
	return out
}

// Clamp01 limits x to [0, 1].
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
