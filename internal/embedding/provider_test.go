package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingModel records how often it is loaded and asked to embed.
type countingModel struct {
	loads   atomic.Int32
	embeds  atomic.Int32
	dim     int
	loadErr error
	badDim  bool
}

func (m *countingModel) Name() string { return "counting" }

func (m *countingModel) Load(_ context.Context) (int, error) {
	m.loads.Add(1)
	if m.loadErr != nil {
		return 0, m.loadErr
	}
	return m.dim, nil
}

func (m *countingModel) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.embeds.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		n := m.dim
		if m.badDim {
			n = m.dim + 1
		}
		v := make([]float32, n)
		v[len(t)%m.dim] = 1
		out[i] = v
	}
	return out, nil
}

func TestProvider_LoadsOnceUnderConcurrency(t *testing.T) {
	model := &countingModel{dim: 8}
	p := NewProvider(model)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Encode(context.Background(), "concurrent first use")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), model.loads.Load())
	assert.True(t, p.Available())
	assert.Equal(t, 8, p.Dimension())
}

func TestProvider_ConstructionNeverFails(t *testing.T) {
	model := &countingModel{dim: 8, loadErr: errors.New("model file missing")}
	p := NewProvider(model)
	require.NotNil(t, p)
	assert.Equal(t, int32(0), model.loads.Load(), "load must be deferred to first use")

	assert.False(t, p.Available())
	assert.Equal(t, 0, p.Dimension())
	assert.ErrorIs(t, p.LoadError(), ErrBackendUnavailable)

	_, err := p.Encode(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	// A failed load is not retried.
	p.Available()
	assert.Equal(t, int32(1), model.loads.Load())
}

func TestProvider_NilModel(t *testing.T) {
	p := NewProvider(nil)
	assert.False(t, p.Available())
	assert.Empty(t, p.ModelName())
	_, err := p.EncodeBatch(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestProvider_BatchUsesCache(t *testing.T) {
	model := &countingModel{dim: 8}
	p := NewProvider(model)
	ctx := context.Background()

	first, err := p.EncodeBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int32(1), model.embeds.Load())

	second, err := p.EncodeBatch(ctx, []string{"beta", "alpha"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), model.embeds.Load(), "cached texts must not hit the model")
	assert.Equal(t, first[0], second[1])
	assert.Equal(t, first[1], second[0])
}

func TestProvider_CacheDisabled(t *testing.T) {
	model := &countingModel{dim: 8}
	p := NewProvider(model, WithCacheSize(0))
	ctx := context.Background()

	_, err := p.Encode(ctx, "alpha")
	require.NoError(t, err)
	_, err = p.Encode(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, int32(2), model.embeds.Load())
}

func TestProvider_RejectsWrongDimension(t *testing.T) {
	p := NewProvider(&countingModel{dim: 8, badDim: true})
	_, err := p.Encode(context.Background(), "alpha")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
