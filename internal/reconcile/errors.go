// Package reconcile decides which extracted entities refer to the same thing
// and fuses them: clustering to bound comparisons, a detector that queues or
// executes merges, a conflict classifier, the merger itself and an alias
// heuristic.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/scrypster/tessera/internal/storage"
)

var (
	// ErrInvalidMerge indicates a merge of an entity with itself or with an
	// id that was already absorbed. Nothing is changed.
	ErrInvalidMerge = errors.New("invalid merge")

	// ErrCandidateNotFound indicates an unknown or already decided merge
	// candidate. It matches storage.ErrNotFound.
	ErrCandidateNotFound = fmt.Errorf("merge candidate %w", storage.ErrNotFound)
)
