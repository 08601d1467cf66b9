package similarity

import (
	"context"
	"sync"

	"github.com/scrypster/tessera/pkg/types"
)

type naiveEntry struct {
	text     string
	tokens   map[string]struct{}
	metadata map[string]string
}

// NaiveBackend scores every stored text by token overlap. It is always
// available and is the last tier of every chain.
type NaiveBackend struct {
	mu      sync.RWMutex
	entries map[string]*naiveEntry
	order   []string
}

// NewNaiveBackend returns an empty in-memory backend.
func NewNaiveBackend() *NaiveBackend {
	return &NaiveBackend{entries: make(map[string]*naiveEntry)}
}

func (b *NaiveBackend) Name() string                       { return BackendNaive }
func (b *NaiveBackend) Available(ctx context.Context) bool { return true }

func (b *NaiveBackend) Add(ctx context.Context, id, text string, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[id]; !ok {
		b.order = append(b.order, id)
	}
	b.entries[id] = &naiveEntry{text: text, tokens: tokenSet(text), metadata: copyMetadata(metadata)}
	return nil
}

func (b *NaiveBackend) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[id]; !ok {
		return nil
	}
	delete(b.entries, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

func (b *NaiveBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[string]*naiveEntry)
	b.order = nil
	return nil
}

// Len returns the number of stored texts.
func (b *NaiveBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

func (b *NaiveBackend) Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	q := tokenSet(query)
	if len(q) == 0 {
		return nil, nil
	}

	b.mu.RLock()
	var results []types.SearchResult
	for _, id := range b.order {
		e := b.entries[id]
		score := jaccardSets(q, e.tokens)
		if score == 0 {
			continue
		}
		results = append(results, types.SearchResult{
			EntityID:    id,
			MatchedText: e.text,
			Score:       score,
			Metadata:    copyMetadata(e.metadata),
		})
	}
	b.mu.RUnlock()

	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (b *NaiveBackend) Similarity(ctx context.Context, a, c string) (float64, error) {
	return Jaccard(a, c), nil
}
