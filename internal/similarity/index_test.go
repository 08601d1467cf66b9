package similarity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/internal/storage"
	"github.com/scrypster/tessera/internal/storage/memory"
	"github.com/scrypster/tessera/internal/storage/sqlite"
	"github.com/scrypster/tessera/internal/storage/sqlitevec"
	"github.com/scrypster/tessera/pkg/types"
)

// fakeBackend wraps a naive backend with switchable failures.
type fakeBackend struct {
	*NaiveBackend
	name      string
	available bool

	mu        sync.Mutex
	addErr    error
	searchErr error
	simErr    error
	searches  int
}

func newFake(name string, available bool) *fakeBackend {
	return &fakeBackend{NaiveBackend: NewNaiveBackend(), name: name, available: available}
}

func (f *fakeBackend) Name() string                       { return f.name }
func (f *fakeBackend) Available(ctx context.Context) bool { return f.available }

func (f *fakeBackend) Add(ctx context.Context, id, text string, md map[string]string) error {
	f.mu.Lock()
	err := f.addErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.NaiveBackend.Add(ctx, id, text, md)
}

func (f *fakeBackend) Search(ctx context.Context, q string, limit int) ([]types.SearchResult, error) {
	f.mu.Lock()
	f.searches++
	err := f.searchErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.NaiveBackend.Search(ctx, q, limit)
}

func (f *fakeBackend) Similarity(ctx context.Context, a, b string) (float64, error) {
	if f.simErr != nil {
		return 0, f.simErr
	}
	return 0.42, nil
}

var errUnavailable = fmt.Errorf("%w: test", embedding.ErrBackendUnavailable)

func TestNewIndex_SelectsFirstAvailable(t *testing.T) {
	ctx := context.Background()

	primary := newFake(BackendVector, false)
	secondary := newFake(BackendKeyword, true)
	idx := NewIndex(ctx, primary, secondary)

	assert.Equal(t, BackendKeyword, idx.BackendName())
	assert.Equal(t, []string{BackendKeyword, BackendNaive}, idx.ActiveBackends())
}

func TestNewIndex_AlwaysHasNaive(t *testing.T) {
	idx := NewIndex(context.Background())
	assert.Equal(t, BackendNaive, idx.BackendName())

	idx = NewIndex(context.Background(), nil, newFake(BackendVector, false))
	assert.Equal(t, []string{BackendNaive}, idx.ActiveBackends())
}

func TestIndex_WritesReachEveryActiveBackend(t *testing.T) {
	ctx := context.Background()
	first := newFake(BackendVector, true)
	naive := NewNaiveBackend()
	idx := NewIndex(ctx, first, naive)

	require.NoError(t, idx.Add(ctx, "ent:1", "alpha beta", nil))
	assert.Equal(t, 1, first.Len())
	assert.Equal(t, 1, naive.Len())

	require.NoError(t, idx.Remove(ctx, "ent:1"))
	assert.Equal(t, 0, first.Len())
	assert.Equal(t, 0, naive.Len())

	require.NoError(t, idx.Add(ctx, "ent:2", "gamma", nil))
	require.NoError(t, idx.Clear(ctx))
	assert.Equal(t, 0, first.Len())
	assert.Equal(t, 0, naive.Len())
}

func TestIndex_AddRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	first := newFake(BackendVector, true)
	second := newFake(BackendKeyword, true)
	second.addErr = errors.New("disk full")
	idx := NewIndex(ctx, first, second)

	err := idx.Add(ctx, "ent:1", "alpha", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, first.Len(), "first backend rolled back")
	assert.Equal(t, BackendVector, idx.BackendName(), "hard failures do not demote")
}

func TestIndex_ReplaceKeepsEntryOnFailure(t *testing.T) {
	ctx := context.Background()
	first := newFake(BackendVector, true)
	second := newFake(BackendKeyword, true)
	idx := NewIndex(ctx, first, second)
	require.NoError(t, idx.Add(ctx, "ent:1", "alpha", nil))

	second.mu.Lock()
	second.addErr = errors.New("disk full")
	second.mu.Unlock()

	err := idx.Replace(ctx, "ent:1", "alpha beta", nil)
	require.Error(t, err)
	assert.Equal(t, 1, first.Len(), "first backend keeps the id")
	assert.Equal(t, 1, second.Len(), "second backend keeps the previous entry")

	results, err := idx.Search(ctx, "beta", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha beta", results[0].MatchedText)
}

func TestIndex_UnavailableDuringAddDropsBackend(t *testing.T) {
	ctx := context.Background()
	first := newFake(BackendVector, true)
	first.addErr = errUnavailable
	idx := NewIndex(ctx, first)

	require.NoError(t, idx.Add(ctx, "ent:1", "alpha beta", nil))
	assert.Equal(t, BackendNaive, idx.BackendName())

	results, err := idx.Search(ctx, "alpha", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ent:1", results[0].EntityID)
}

func TestIndex_SearchFallsThroughWhenTierFails(t *testing.T) {
	ctx := context.Background()
	first := newFake(BackendVector, true)
	idx := NewIndex(ctx, first)
	require.NoError(t, idx.Add(ctx, "ent:1", "alpha beta", nil))

	first.mu.Lock()
	first.searchErr = errUnavailable
	first.mu.Unlock()

	results, err := idx.Search(ctx, "alpha", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, BackendNaive, idx.BackendName())

	// The failed tier is not consulted again.
	_, err = idx.Search(ctx, "alpha", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, first.searches)
}

func TestIndex_SearchUsesOnlyBestBackend(t *testing.T) {
	ctx := context.Background()
	first := newFake(BackendKeyword, true)
	idx := NewIndex(ctx, first)
	require.NoError(t, idx.Add(ctx, "ent:1", "alpha", nil))

	_, err := idx.Search(ctx, "alpha", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, first.searches)

	assert.InDelta(t, 0.42, idx.Similarity(ctx, "x", "y"), 1e-9, "similarity from the best backend")
}

func TestIndex_SimilarityFallsBack(t *testing.T) {
	ctx := context.Background()
	first := newFake(BackendVector, true)
	first.simErr = errUnavailable
	idx := NewIndex(ctx, first)

	assert.InDelta(t, 0.5, idx.Similarity(ctx, "a b c", "b c d"), 1e-9)
	assert.Equal(t, BackendNaive, idx.BackendName())
}

func TestIndex_SimilarityDimensionMismatchPanics(t *testing.T) {
	first := newFake(BackendVector, true)
	first.simErr = fmt.Errorf("%w: 3 vs 4", embedding.ErrDimensionMismatch)
	idx := NewIndex(context.Background(), first)

	assert.Panics(t, func() { idx.Similarity(context.Background(), "a", "b") })
}

func TestIndex_EmptyInputs(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(ctx)

	assert.Equal(t, 0.0, idx.Similarity(ctx, "", "text"))
	assert.Equal(t, 0.0, idx.Similarity(ctx, "text", " "))
	results, err := idx.Search(ctx, "", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Error(t, idx.Add(ctx, "", "text", nil))
}

func TestIndex_Rebuild(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(ctx)
	require.NoError(t, idx.Add(ctx, "ent:stale", "stale text", nil))

	require.NoError(t, idx.Rebuild(ctx, []Document{
		{ID: "ent:1", Text: "alpha"},
		{ID: "ent:2", Text: "beta"},
	}))

	results, err := idx.Search(ctx, "stale", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	results, err = idx.Search(ctx, "beta", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ent:2", results[0].EntityID)
}

func newVectorIndex(t *testing.T) (*Index, *VectorBackend) {
	t.Helper()
	provider := embedding.NewProvider(embedding.NewLocalModel(embedding.DefaultLocalDimension))
	require.True(t, provider.Available())

	store, err := memory.NewVectors(provider.Dimension())
	require.NoError(t, err)

	vb := NewVectorBackend(provider, store)
	return NewIndex(context.Background(), vb), vb
}

func TestVectorBackend_SQLiteVecStore(t *testing.T) {
	ctx := context.Background()
	provider := embedding.NewProvider(embedding.NewLocalModel(embedding.DefaultLocalDimension))
	store, err := sqlitevec.Open(":memory:", provider.Dimension(), provider.ModelName())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// Without a working vec0 KNN path the chain starts on naive instead.
	idx := NewIndex(ctx, NewVectorBackend(provider, store))
	require.NoError(t, idx.Add(ctx, "ent:a", "John Smith intelligence operative stationed in Berlin", nil))
	require.NoError(t, idx.Add(ctx, "ent:b", "Harvest festival recipes from Riverton", nil))

	results, err := idx.Search(ctx, "John Smith operative", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "ent:a", results[0].EntityID)
}

// knnFailingStore accepts writes but cannot answer nearest-neighbour queries.
type knnFailingStore struct {
	pingErr error
}

var _ storage.VectorStore = (*knnFailingStore)(nil)

func (s *knnFailingStore) Ping(ctx context.Context) error                             { return s.pingErr }
func (s *knnFailingStore) Upsert(ctx context.Context, rec storage.VectorRecord) error { return nil }
func (s *knnFailingStore) Delete(ctx context.Context, entityID string) error          { return nil }
func (s *knnFailingStore) Clear(ctx context.Context) error                            { return nil }
func (s *knnFailingStore) Close() error                                               { return nil }

func (s *knnFailingStore) Nearest(ctx context.Context, query []float32, k int) ([]storage.VectorHit, error) {
	return nil, errors.New("sqlitevec: knn query: wasm error: out of bounds memory access")
}

func TestVectorBackend_FailedPingIsUnavailable(t *testing.T) {
	ctx := context.Background()
	provider := embedding.NewProvider(embedding.NewLocalModel(embedding.DefaultLocalDimension))
	vb := NewVectorBackend(provider, &knnFailingStore{pingErr: errors.New("sqlitevec: knn query unavailable")})

	assert.False(t, vb.Available(ctx))
	assert.Equal(t, BackendNaive, NewIndex(ctx, vb).BackendName())
}

func TestVectorBackend_KNNFailureFallsThrough(t *testing.T) {
	ctx := context.Background()
	provider := embedding.NewProvider(embedding.NewLocalModel(embedding.DefaultLocalDimension))
	idx := NewIndex(ctx, NewVectorBackend(provider, &knnFailingStore{}), NewNaiveBackend())
	require.Equal(t, BackendVector, idx.BackendName())

	require.NoError(t, idx.Add(ctx, "ent:a", "John Smith operative in Berlin", nil))
	results, err := idx.Search(ctx, "John Smith", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ent:a", results[0].EntityID)
	assert.Equal(t, BackendNaive, idx.BackendName())
}

func TestVectorBackend_Search(t *testing.T) {
	ctx := context.Background()
	idx, _ := newVectorIndex(t)
	assert.Equal(t, BackendVector, idx.BackendName())

	require.NoError(t, idx.Add(ctx, "ent:a", "John Smith intelligence operative stationed in Berlin", map[string]string{"type": "person"}))
	require.NoError(t, idx.Add(ctx, "ent:b", "Harvest festival recipes from Riverton", nil))
	require.NoError(t, idx.Add(ctx, "ent:c", "Berlin field office staff", nil))

	results, err := idx.Search(ctx, "operative in Berlin", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "ent:a", results[0].EntityID)
	assert.Equal(t, "ent:c", results[1].EntityID)
	assert.Equal(t, "ent:b", results[2].EntityID)
	assert.Equal(t, "person", results[0].Metadata["type"])
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}

	results, err = idx.Search(ctx, "festival recipes", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ent:b", results[0].EntityID)
}

func TestVectorBackend_StopwordOnlyTextIsNotIndexed(t *testing.T) {
	ctx := context.Background()
	idx, _ := newVectorIndex(t)

	require.NoError(t, idx.Add(ctx, "ent:empty", "the and of", nil))
	results, err := idx.Search(ctx, "the and of", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSimilarityProperties(t *testing.T) {
	ctx := context.Background()
	vectorIdx, _ := newVectorIndex(t)

	kwStore, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kwStore.Close() })
	keywordIdx := NewIndex(ctx, NewKeywordBackend(kwStore))
	require.Equal(t, BackendKeyword, keywordIdx.BackendName())

	naiveIdx := NewIndex(ctx)

	pairs := [][2]string{
		{"Intelligence operative in Berlin", "CIA operative based in Berlin"},
		{"Marcus Vane merchant", "harvest festival recipes"},
		{"alpha", "alpha beta gamma"},
	}

	for _, idx := range []*Index{vectorIdx, keywordIdx, naiveIdx} {
		t.Run(idx.BackendName(), func(t *testing.T) {
			for _, p := range pairs {
				ab := idx.Similarity(ctx, p[0], p[1])
				ba := idx.Similarity(ctx, p[1], p[0])
				assert.InDelta(t, ab, ba, 1e-6, "symmetry for %q", p)
				assert.GreaterOrEqual(t, ab, 0.0)
				assert.LessOrEqual(t, ab, 1.0)

				self := idx.Similarity(ctx, p[0], p[0])
				assert.InDelta(t, 1.0, self, 1e-6, "self similarity for %q", p[0])
				assert.GreaterOrEqual(t, self, ab)

				assert.Equal(t, 0.0, idx.Similarity(ctx, "", p[0]))
			}
		})
	}
}

func TestKeywordBackend_SearchRescoresToJaccard(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idx := NewIndex(ctx, NewKeywordBackend(store))
	require.NoError(t, idx.Add(ctx, "ent:1", "merchant of riverton", nil))
	require.NoError(t, idx.Add(ctx, "ent:2", "riverton", nil))
	require.NoError(t, idx.Add(ctx, "ent:3", "festival", nil))

	results, err := idx.Search(ctx, "riverton", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "ent:2", results[0].EntityID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 1.0/3.0, results[1].Score, 1e-9)
}
