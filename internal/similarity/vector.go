package similarity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/internal/storage"
	"github.com/scrypster/tessera/pkg/types"
)

// VectorBackend embeds text with a Provider and answers nearest-neighbour
// queries by cosine similarity from a VectorStore.
type VectorBackend struct {
	provider *embedding.Provider
	store    storage.VectorStore
}

// NewVectorBackend pairs an embedding provider with a vector store. Both
// must agree on dimension.
func NewVectorBackend(provider *embedding.Provider, store storage.VectorStore) *VectorBackend {
	return &VectorBackend{provider: provider, store: store}
}

func (b *VectorBackend) Name() string { return BackendVector }

func (b *VectorBackend) Available(ctx context.Context) bool {
	if b.provider == nil || b.store == nil || !b.provider.Available() {
		return false
	}
	return b.store.Ping(ctx) == nil
}

// Add stores the embedding of text. Text with no embeddable content (a zero
// vector) is removed instead, since it cannot be ranked by cosine.
func (b *VectorBackend) Add(ctx context.Context, id, text string, metadata map[string]string) error {
	vec, err := b.provider.Encode(ctx, text)
	if err != nil {
		return b.wrap(ctx, err)
	}
	if embedding.IsZero(vec) {
		return b.Remove(ctx, id)
	}
	rec := storage.VectorRecord{EntityID: id, Text: text, Metadata: metadata, Vector: vec}
	if err := b.store.Upsert(ctx, rec); err != nil {
		return b.wrap(ctx, err)
	}
	return nil
}

func (b *VectorBackend) Remove(ctx context.Context, id string) error {
	if err := b.store.Delete(ctx, id); err != nil {
		return b.wrap(ctx, err)
	}
	return nil
}

func (b *VectorBackend) Clear(ctx context.Context) error {
	if err := b.store.Clear(ctx); err != nil {
		return b.wrap(ctx, err)
	}
	return nil
}

func (b *VectorBackend) Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vec, err := b.provider.Encode(ctx, query)
	if err != nil {
		return nil, b.wrap(ctx, err)
	}
	if embedding.IsZero(vec) {
		return nil, nil
	}

	hits, err := b.store.Nearest(ctx, vec, limit)
	if err != nil {
		return nil, b.wrap(ctx, err)
	}
	results := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, types.SearchResult{
			EntityID:    h.EntityID,
			MatchedText: h.Text,
			Score:       h.Similarity,
			Metadata:    h.Metadata,
		})
	}
	sortResults(results)
	return results, nil
}

// Similarity is the clamped cosine of the two embeddings.
func (b *VectorBackend) Similarity(ctx context.Context, a, c string) (float64, error) {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(c) == "" {
		return 0, nil
	}
	vecs, err := b.provider.EncodeBatch(ctx, []string{a, c})
	if err != nil {
		return 0, b.wrap(ctx, err)
	}
	return embedding.Similarity(vecs[0], vecs[1]), nil
}

// wrap classifies a failure. Dimension mismatches and cancellation pass
// through; anything else means the vector tier is no longer usable.
func (b *VectorBackend) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, embedding.ErrDimensionMismatch) || unavailable(err) {
		return err
	}
	return fmt.Errorf("%w: vector tier: %v", embedding.ErrBackendUnavailable, err)
}
