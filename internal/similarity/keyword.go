package similarity

import (
	"context"
	"fmt"

	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/internal/storage"
	"github.com/scrypster/tessera/pkg/types"
)

// keywordOverfetch widens the full-text candidate set before rescoring.
const keywordOverfetch = 4

// KeywordBackend uses a full-text index to find candidates and rescores
// them by token overlap so scores stay in [0,1].
type KeywordBackend struct {
	idx storage.KeywordIndex
}

// NewKeywordBackend wraps a full-text index.
func NewKeywordBackend(idx storage.KeywordIndex) *KeywordBackend {
	return &KeywordBackend{idx: idx}
}

func (b *KeywordBackend) Name() string { return BackendKeyword }

func (b *KeywordBackend) Available(ctx context.Context) bool {
	if b.idx == nil {
		return false
	}
	_, err := b.idx.KeywordSearch(ctx, "availability check", 1)
	return err == nil
}

func (b *KeywordBackend) Add(ctx context.Context, id, text string, metadata map[string]string) error {
	if err := b.idx.IndexText(ctx, id, text, metadata); err != nil {
		return b.wrap(ctx, err)
	}
	return nil
}

func (b *KeywordBackend) Remove(ctx context.Context, id string) error {
	if err := b.idx.RemoveText(ctx, id); err != nil {
		return b.wrap(ctx, err)
	}
	return nil
}

func (b *KeywordBackend) Clear(ctx context.Context) error {
	if err := b.idx.ClearText(ctx); err != nil {
		return b.wrap(ctx, err)
	}
	return nil
}

func (b *KeywordBackend) Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	q := tokenSet(query)
	if len(q) == 0 {
		return nil, nil
	}

	hits, err := b.idx.KeywordSearch(ctx, query, limit*keywordOverfetch)
	if err != nil {
		return nil, b.wrap(ctx, err)
	}

	results := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		score := jaccardSets(q, tokenSet(h.Text))
		if score == 0 {
			continue
		}
		results = append(results, types.SearchResult{
			EntityID:    h.EntityID,
			MatchedText: h.Text,
			Score:       score,
			Metadata:    h.Metadata,
		})
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (b *KeywordBackend) Similarity(ctx context.Context, a, c string) (float64, error) {
	return Jaccard(a, c), nil
}

// wrap marks index failures as availability failures unless the context
// was cancelled.
func (b *KeywordBackend) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: keyword index: %v", embedding.ErrBackendUnavailable, err)
}
