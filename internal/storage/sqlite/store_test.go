package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/tessera/internal/storage/storagetest"
	"github.com/scrypster/tessera/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	storagetest.RunStoreTests(t, func(t *testing.T) storagetest.Store {
		return newTestStore(t)
	})
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tessera.db")
	ctx := context.Background()

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveEntity(ctx, &types.Entity{ID: "ent:1", Name: "Marcus Vane"}))
	require.NoError(t, s.IndexText(ctx, "ent:1", "Marcus Vane merchant", nil))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()

	e, err := s.GetEntity(ctx, "ent:1")
	require.NoError(t, err)
	assert.Equal(t, "Marcus Vane", e.Name)

	hits, err := s.KeywordSearch(ctx, "merchant", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ent:1", hits[0].EntityID)
}

func TestKeywordIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IndexText(ctx, "ent:1", "Marcus Vane (person)\nA merchant in Riverton", map[string]string{"type": "person"}))
	require.NoError(t, s.IndexText(ctx, "ent:2", "Riverton (location)\nA river town", nil))
	require.NoError(t, s.IndexText(ctx, "ent:3", "Harvest festival recipes", nil))

	hits, err := s.KeywordSearch(ctx, "merchant", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ent:1", hits[0].EntityID)
	assert.Equal(t, "person", hits[0].Metadata["type"])

	hits, err = s.KeywordSearch(ctx, "Riverton", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	// Re-indexing replaces the previous row.
	require.NoError(t, s.IndexText(ctx, "ent:1", "Marcus Vane (person)\nA sailor", nil))
	hits, err = s.KeywordSearch(ctx, "merchant", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.RemoveText(ctx, "ent:2"))
	require.NoError(t, s.RemoveText(ctx, "ent:missing"))
	hits, err = s.KeywordSearch(ctx, "Riverton", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.ClearText(ctx))
	hits, err = s.KeywordSearch(ctx, "harvest", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestKeywordSearchHandlesOperatorsAndPunctuation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IndexText(ctx, "ent:1", "Agent K-9 of the NEAR OR AND division", nil))

	for _, q := range []string{`"K-9"`, "division AND", "the OR", "(division)*", ""} {
		_, err := s.KeywordSearch(ctx, q, 5)
		assert.NoError(t, err, "query %q", q)
	}

	hits, err := s.KeywordSearch(ctx, "divis", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1, "prefix match")
}

func TestSanitiseFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"merchant", `"merchant"*`},
		{"The merchant of Riverton", `"merchant"* OR "riverton"*`},
		{`"quoted" (group)`, `"quoted"* OR "group"*`},
		{"a the of", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitiseFTSQuery(tt.in), tt.in)
	}
}

func TestDBPathFromDSN(t *testing.T) {
	assert.Equal(t, "/tmp/x.db", dbPathFromDSN("/tmp/x.db"))
	assert.Equal(t, "/tmp/x.db", dbPathFromDSN("file:/tmp/x.db?_pragma=busy_timeout(5000)"))
	assert.Equal(t, ":memory:", dbPathFromDSN(":memory:"))
}
