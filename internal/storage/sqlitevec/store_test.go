package sqlitevec

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/internal/storage"
)

func newTestStore(t *testing.T, dim int) *Store {
	t.Helper()
	s, err := Open(":memory:", dim, "test-model")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// requireKNN skips when this build of the extension cannot answer KNN
// queries; the similarity chain falls back to the keyword tier then.
func requireKNN(t *testing.T, s *Store) {
	t.Helper()
	if err := s.Ping(context.Background()); err != nil {
		t.Skipf("vec0 knn unavailable: %v", err)
	}
}

func TestUpsertAndNearest(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()
	requireKNN(t, s)

	require.NoError(t, s.Upsert(ctx, storage.VectorRecord{EntityID: "ent:x", Text: "x axis", Vector: []float32{1, 0, 0}}))
	require.NoError(t, s.Upsert(ctx, storage.VectorRecord{EntityID: "ent:y", Text: "y axis", Vector: []float32{0, 2, 0}}))
	require.NoError(t, s.Upsert(ctx, storage.VectorRecord{
		EntityID: "ent:xy",
		Text:     "diagonal",
		Metadata: map[string]string{"type": "line"},
		Vector:   []float32{1, 1, 0},
	}))

	hits, err := s.Nearest(ctx, []float32{3, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "ent:x", hits[0].EntityID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)
	assert.Equal(t, "x axis", hits[0].Text)
	assert.Equal(t, "ent:xy", hits[1].EntityID)
	assert.InDelta(t, 0.7071, hits[1].Similarity, 1e-3)
	assert.Equal(t, "line", hits[1].Metadata["type"])
}

func TestUpsertReplacesVector(t *testing.T) {
	s := newTestStore(t, 2)
	requireKNN(t, s)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, storage.VectorRecord{EntityID: "ent:1", Text: "old", Vector: []float32{1, 0}}))
	require.NoError(t, s.Upsert(ctx, storage.VectorRecord{EntityID: "ent:1", Text: "new", Vector: []float32{0, 1}}))

	hits, err := s.Nearest(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].Text)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)
}

func TestDeleteAndClear(t *testing.T) {
	s := newTestStore(t, 2)
	requireKNN(t, s)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, storage.VectorRecord{EntityID: "ent:1", Vector: []float32{1, 0}}))
	require.NoError(t, s.Upsert(ctx, storage.VectorRecord{EntityID: "ent:2", Vector: []float32{0, 1}}))

	require.NoError(t, s.Delete(ctx, "ent:1"))
	require.NoError(t, s.Delete(ctx, "ent:missing"))

	hits, err := s.Nearest(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ent:2", hits[0].EntityID)

	require.NoError(t, s.Clear(ctx))
	hits, err = s.Nearest(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRejectsBadVectors(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()

	err := s.Upsert(ctx, storage.VectorRecord{EntityID: "ent:1", Vector: []float32{1, 0, 0}})
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)

	err = s.Upsert(ctx, storage.VectorRecord{EntityID: "ent:1", Vector: []float32{0, 0}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = s.Nearest(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)
}

func TestReopenWithDifferentDimensionResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	ctx := context.Background()

	s, err := Open(path, 2, "model-a")
	require.NoError(t, err)
	assert.False(t, s.Reset())
	requireKNN(t, s)
	require.NoError(t, s.Upsert(ctx, storage.VectorRecord{EntityID: "ent:1", Vector: []float32{1, 0}}))
	require.NoError(t, s.Close())

	s, err = Open(path, 2, "model-a")
	require.NoError(t, err)
	assert.False(t, s.Reset())
	hits, err := s.Nearest(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	require.NoError(t, s.Close())

	s, err = Open(path, 3, "model-b")
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.Reset())
	assert.Equal(t, 3, s.Dimension())
	hits, err = s.Nearest(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSimilarityFromL2(t *testing.T) {
	assert.InDelta(t, 1.0, similarityFromL2(0), 1e-9)
	assert.InDelta(t, 0.0, similarityFromL2(1.4142135), 1e-6)
	assert.Equal(t, 0.0, similarityFromL2(2))
}

func TestPingLeavesNoSampleRow(t *testing.T) {
	s := newTestStore(t, 2)
	requireKNN(t, s)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	hits, err := s.Nearest(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.Upsert(ctx, storage.VectorRecord{EntityID: "ent:1", Text: "one", Vector: []float32{1, 0}}))
	require.NoError(t, s.Ping(ctx))
	hits, err = s.Nearest(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ent:1", hits[0].EntityID)
}

func TestGuardTurnsPanicIntoError(t *testing.T) {
	knn := func() (hits []storage.VectorHit, err error) {
		defer guard("knn query", &err)
		panic("wasm error: out of bounds memory access")
	}
	hits, err := knn()
	require.Error(t, err)
	assert.Nil(t, hits)
	assert.Contains(t, err.Error(), "knn query")
	assert.Contains(t, err.Error(), "out of bounds memory access")

	ok := func() (err error) {
		defer guard("ping", &err)
		return nil
	}
	assert.NoError(t, ok())
}
