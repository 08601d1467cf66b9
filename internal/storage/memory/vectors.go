package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/internal/storage"
)

// Vectors is an in-process vector store ranked by brute-force cosine.
// Vectors are normalised on write, as in the sqlite-vec store.
type Vectors struct {
	mu      sync.RWMutex
	dim     int
	records map[string]storage.VectorRecord
}

var _ storage.VectorStore = (*Vectors)(nil)

// NewVectors returns an empty store for vectors of length dim.
func NewVectors(dim int) (*Vectors, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidInput)
	}
	return &Vectors{dim: dim, records: make(map[string]storage.VectorRecord)}, nil
}

// Dimension returns the vector length the store was created for.
func (v *Vectors) Dimension() int {
	return v.dim
}

func (v *Vectors) Ping(ctx context.Context) error { return nil }

func (v *Vectors) Upsert(ctx context.Context, rec storage.VectorRecord) error {
	if rec.EntityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if len(rec.Vector) != v.dim {
		return fmt.Errorf("%w: got %d, store holds %d", embedding.ErrDimensionMismatch, len(rec.Vector), v.dim)
	}
	vec := append([]float32(nil), rec.Vector...)
	if !embedding.Normalize(vec) {
		return fmt.Errorf("%w: zero vector for %s", storage.ErrInvalidInput, rec.EntityID)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[rec.EntityID] = storage.VectorRecord{
		EntityID: rec.EntityID,
		Text:     rec.Text,
		Metadata: copyStrings(rec.Metadata),
		Vector:   vec,
	}
	return nil
}

func (v *Vectors) Delete(ctx context.Context, entityID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.records, entityID)
	return nil
}

func (v *Vectors) Clear(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records = make(map[string]storage.VectorRecord)
	return nil
}

// Nearest returns the k stored vectors closest to query, ties broken by id.
func (v *Vectors) Nearest(ctx context.Context, query []float32, k int) ([]storage.VectorHit, error) {
	if len(query) != v.dim {
		return nil, fmt.Errorf("%w: got %d, store holds %d", embedding.ErrDimensionMismatch, len(query), v.dim)
	}
	if k <= 0 || embedding.IsZero(query) {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.RLock()
	hits := make([]storage.VectorHit, 0, len(v.records))
	for id, rec := range v.records {
		hits = append(hits, storage.VectorHit{
			EntityID:   id,
			Text:       rec.Text,
			Metadata:   copyStrings(rec.Metadata),
			Similarity: embedding.Similarity(query, rec.Vector),
		})
	}
	v.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].EntityID < hits[j].EntityID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (v *Vectors) Close() error { return nil }

func copyStrings(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = val
	}
	return out
}
