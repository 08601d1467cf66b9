package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalModel_Deterministic(t *testing.T) {
	m := NewLocalModel(0)
	dim, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultLocalDimension, dim)

	vecs, err := m.Embed(context.Background(), []string{"Berlin station chief", "Berlin station chief"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], DefaultLocalDimension)
	assert.Equal(t, vecs[0], vecs[1])
	assert.InDelta(t, 1.0, Cosine(vecs[0], vecs[0]), 1e-6)
}

func TestLocalModel_SubwordSimilarity(t *testing.T) {
	m := NewLocalModel(384)
	vecs, err := m.Embed(context.Background(), []string{
		"operative stationed in Berlin",
		"operatives stationed in Berlin",
		"harvest festival recipes",
	})
	require.NoError(t, err)

	near := Similarity(vecs[0], vecs[1])
	far := Similarity(vecs[0], vecs[2])
	assert.Greater(t, near, far)
	assert.Greater(t, near, 0.8)
}

func TestLocalModel_StopwordsOnlyIsZeroVector(t *testing.T) {
	m := NewLocalModel(16)
	vecs, err := m.Embed(context.Background(), []string{"", "the and of"})
	require.NoError(t, err)
	assert.True(t, IsZero(vecs[0]))
	assert.True(t, IsZero(vecs[1]))
}

func TestLocalModel_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalModel(16).Embed(ctx, []string{"alpha"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewModel(t *testing.T) {
	m, err := NewModel(ModelConfig{Model: ModelLocal, LocalDimension: 32})
	require.NoError(t, err)
	assert.Equal(t, "local-ngram-32", m.Name())

	m, err = NewModel(ModelConfig{Model: ModelNone})
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = NewModel(ModelConfig{Model: "word2vec"})
	assert.Error(t, err)
}
