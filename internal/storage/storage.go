// Package storage defines the persistence interfaces used by the
// reconciliation engine.
//
// The entity store is the source of truth. Keyword and vector stores hold
// derived data and can be rebuilt from the entity store at any time.
package storage

import (
	"context"
	"errors"

	"github.com/scrypster/tessera/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// EntityStore persists entities and the relationships between them.
type EntityStore interface {
	// GetEntity returns ErrNotFound if the entity does not exist.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)

	// SaveEntity creates or replaces the entity (upsert semantics).
	SaveEntity(ctx context.Context, entity *types.Entity) error

	// DeleteEntity returns ErrNotFound if the entity does not exist.
	DeleteEntity(ctx context.Context, id string) error

	// ListEntities returns every entity in insertion order.
	ListEntities(ctx context.Context) ([]*types.Entity, error)

	// RelationshipsForEntity returns relationships where the entity is the
	// source or the target.
	RelationshipsForEntity(ctx context.Context, entityID string) ([]*types.Relationship, error)

	// SaveRelationship creates or replaces the relationship.
	SaveRelationship(ctx context.Context, rel *types.Relationship) error

	// DeleteRelationship returns ErrNotFound if the relationship does not exist.
	DeleteRelationship(ctx context.Context, id string) error
}

// KeywordHit is a single full-text match.
type KeywordHit struct {
	EntityID string
	Text     string
	Metadata map[string]string
}

// KeywordIndex is a full-text index over entity text.
// Removing an id that is not indexed is not an error.
type KeywordIndex interface {
	IndexText(ctx context.Context, entityID, text string, metadata map[string]string) error
	RemoveText(ctx context.Context, entityID string) error
	ClearText(ctx context.Context) error
	KeywordSearch(ctx context.Context, query string, limit int) ([]KeywordHit, error)
}

// VectorRecord is a stored embedding with the text it was computed from.
type VectorRecord struct {
	EntityID string
	Text     string
	Metadata map[string]string
	Vector   []float32
}

// VectorHit is a nearest-neighbour result. Similarity is cosine, clamped
// to [0,1].
type VectorHit struct {
	EntityID   string
	Text       string
	Metadata   map[string]string
	Similarity float64
}

// VectorStore holds embeddings for nearest-neighbour search.
// Deleting an id that is not stored is not an error.
type VectorStore interface {
	// Ping reports whether the store is reachable and usable.
	Ping(ctx context.Context) error
	Upsert(ctx context.Context, rec VectorRecord) error
	Delete(ctx context.Context, entityID string) error
	Clear(ctx context.Context) error
	Nearest(ctx context.Context, query []float32, k int) ([]VectorHit, error)
	Close() error
}

// CandidateStore persists merge candidates.
type CandidateStore interface {
	PutCandidate(ctx context.Context, c *types.MergeCandidate) error

	// GetCandidate returns ErrNotFound if the candidate does not exist.
	GetCandidate(ctx context.Context, id string) (*types.MergeCandidate, error)

	// ListCandidates returns candidates with the given status, oldest first.
	// An empty status returns every candidate.
	ListCandidates(ctx context.Context, status types.CandidateStatus) ([]*types.MergeCandidate, error)

	DeleteCandidate(ctx context.Context, id string) error
}

// MergeLog is an append-only record of completed merges.
type MergeLog interface {
	RecordMerge(ctx context.Context, event *types.MergeEvent) error

	// ListMerges returns the most recent events first.
	ListMerges(ctx context.Context, limit int) ([]*types.MergeEvent, error)
}
