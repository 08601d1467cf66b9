package embedding

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheSize   = 4096
	defaultLoadTimeout = 30 * time.Second
)

// Provider gives thread-safe access to one embedding Model.
//
// The model is loaded lazily on first use, exactly once, behind a mutex, so
// concurrent first calls trigger a single Load. A failed load is not retried:
// the provider stays unavailable for the rest of the session.
type Provider struct {
	model       Model
	loadTimeout time.Duration

	mu        sync.Mutex
	loaded    bool
	available bool
	dim       int
	loadErr   error

	cache *lru.Cache[string, []float32]
}

// Option configures a Provider.
type Option func(*Provider)

// WithCacheSize sets the number of encoded texts kept in the LRU cache.
// Zero disables caching.
func WithCacheSize(n int) Option {
	return func(p *Provider) {
		if n <= 0 {
			p.cache = nil
			return
		}
		p.cache, _ = lru.New[string, []float32](n)
	}
}

// WithLoadTimeout bounds how long the first Load may take.
func WithLoadTimeout(d time.Duration) Option {
	return func(p *Provider) { p.loadTimeout = d }
}

// NewProvider wraps model. A nil model yields a provider that is never
// available. NewProvider never fails; load errors surface via Available.
func NewProvider(model Model, opts ...Option) *Provider {
	p := &Provider{model: model, loadTimeout: defaultLoadTimeout}
	p.cache, _ = lru.New[string, []float32](defaultCacheSize)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ensureLoaded loads the model on first call and caches the outcome.
func (p *Provider) ensureLoaded(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return p.available
	}
	p.loaded = true

	if p.model == nil {
		p.loadErr = fmt.Errorf("%w: no model configured", ErrBackendUnavailable)
		log.Printf("embedding: no model configured, vector similarity disabled")
		return false
	}

	loadCtx, cancel := context.WithTimeout(ctx, p.loadTimeout)
	defer cancel()

	dim, err := p.model.Load(loadCtx)
	if err != nil {
		p.loadErr = fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, p.model.Name(), err)
		log.Printf("embedding: failed to load %s, vector similarity disabled: %v", p.model.Name(), err)
		return false
	}
	if dim <= 0 {
		p.loadErr = fmt.Errorf("%w: %s reported dimension %d", ErrBackendUnavailable, p.model.Name(), dim)
		log.Printf("embedding: %s reported invalid dimension %d", p.model.Name(), dim)
		return false
	}

	p.dim = dim
	p.available = true
	log.Printf("embedding: loaded %s (dimension %d)", p.model.Name(), dim)
	return true
}

// Available reports whether the model could be loaded. The first call
// triggers the load.
func (p *Provider) Available() bool {
	return p.ensureLoaded(context.Background())
}

// LoadError returns the reason the provider is unavailable, or nil.
func (p *Provider) LoadError() error {
	p.ensureLoaded(context.Background())
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadErr
}

// Dimension returns the vector length of the loaded model, or 0 when the
// provider is unavailable.
func (p *Provider) Dimension() int {
	if !p.ensureLoaded(context.Background()) {
		return 0
	}
	return p.dim
}

// ModelName returns the configured model's name, or "" without a model.
func (p *Provider) ModelName() string {
	if p.model == nil {
		return ""
	}
	return p.model.Name()
}

// Encode returns the embedding for text. It returns an error wrapping
// ErrBackendUnavailable when no model could be loaded.
func (p *Provider) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch encodes texts in one model call, serving repeated texts from
// the cache. The result has one vector per input, in input order.
func (p *Provider) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !p.ensureLoaded(ctx) {
		return nil, p.loadErr
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if p.cache != nil {
			if v, ok := p.cache.Get(text); ok {
				out[i] = v
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := p.model.Embed(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("embedding: %s: %w", p.model.Name(), err)
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedding: %s returned %d vectors for %d texts", p.model.Name(), len(vecs), len(missing))
	}

	for j, v := range vecs {
		if len(v) != p.dim {
			return nil, fmt.Errorf("%w: %s returned length %d, expected %d", ErrDimensionMismatch, p.model.Name(), len(v), p.dim)
		}
		out[missingIdx[j]] = v
		if p.cache != nil {
			p.cache.Add(missing[j], v)
		}
	}
	return out, nil
}
