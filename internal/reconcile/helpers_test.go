package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/internal/similarity"
	"github.com/scrypster/tessera/internal/storage/memory"
	"github.com/scrypster/tessera/pkg/types"
)

func newProvider(t *testing.T) *embedding.Provider {
	t.Helper()
	p := embedding.NewProvider(embedding.NewLocalModel(embedding.DefaultLocalDimension))
	require.True(t, p.Available())
	return p
}

// newVectorIndex returns an index whose best tier is the vector backend.
func newVectorIndex(t *testing.T, provider *embedding.Provider) *similarity.Index {
	t.Helper()
	store, err := memory.NewVectors(provider.Dimension())
	require.NoError(t, err)

	idx := similarity.NewIndex(context.Background(), similarity.NewVectorBackend(provider, store))
	require.Equal(t, similarity.BackendVector, idx.BackendName())
	return idx
}

func newNaiveIndex() *similarity.Index {
	return similarity.NewIndex(context.Background())
}

func entity(id, name, desc string, aliases ...string) *types.Entity {
	return &types.Entity{ID: id, Name: name, Description: desc, Aliases: aliases}
}

const docksBio = "Smuggler operating out of the northern docks of Riverton"
