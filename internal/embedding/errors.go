// Package embedding turns text into fixed-length vectors.
//
// A Provider wraps one Model and loads it lazily, at most once per process,
// on first use. Construction never fails: when the model cannot be loaded the
// provider reports Available() == false and every vector-dependent caller is
// expected to fall back to a keyword strategy.
package embedding

import "errors"

var (
	// ErrBackendUnavailable indicates the embedding model could not be loaded
	// or is not configured. Callers degrade instead of surfacing it.
	ErrBackendUnavailable = errors.New("embedding backend unavailable")

	// ErrDimensionMismatch indicates vectors from incompatible models were
	// compared. This is a configuration bug, not a data condition.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
