package similarity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/pkg/types"
)

// Document is one entry of the logical (id, text, metadata) collection.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Index applies writes to every available backend and answers reads from
// the best one. Availability is checked once, in NewIndex; a backend that
// later fails with ErrBackendUnavailable is dropped for the rest of the
// session and the next tier takes over.
type Index struct {
	mu       sync.RWMutex
	backends []Backend // available backends, preferred first
}

// NewIndex checks candidates in order and keeps the available ones. A naive
// backend is appended when the chain does not already end in one, so the
// index can always answer.
func NewIndex(ctx context.Context, candidates ...Backend) *Index {
	idx := &Index{}
	hasNaive := false
	for _, b := range candidates {
		if b == nil {
			continue
		}
		if !b.Available(ctx) {
			log.Printf("similarity: %s backend unavailable, falling back", b.Name())
			continue
		}
		if b.Name() == BackendNaive {
			hasNaive = true
		}
		idx.backends = append(idx.backends, b)
	}
	if !hasNaive {
		idx.backends = append(idx.backends, NewNaiveBackend())
	}
	log.Printf("similarity: active backend %s", idx.backends[0].Name())
	return idx
}

// BackendName returns the name of the backend serving Search and Similarity.
func (x *Index) BackendName() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.backends[0].Name()
}

// ActiveBackends returns the names of every backend receiving writes.
func (x *Index) ActiveBackends() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	names := make([]string, len(x.backends))
	for i, b := range x.backends {
		names[i] = b.Name()
	}
	return names
}

func (x *Index) snapshot() []Backend {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]Backend(nil), x.backends...)
}

// drop removes a failed backend. The last backend is never dropped.
func (x *Index) drop(b Backend, cause error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.backends) <= 1 {
		return
	}
	for i, cur := range x.backends {
		if cur == b {
			x.backends = append(x.backends[:i], x.backends[i+1:]...)
			log.Printf("similarity: %s backend failed (%v), now using %s", b.Name(), cause, x.backends[0].Name())
			return
		}
	}
}

// Add stores text under a new id in every backend. If a backend fails for
// a reason other than unavailability, the id is removed from the backends
// already written and the error is returned, so no backend is left holding
// an entry the others lack.
func (x *Index) Add(ctx context.Context, id, text string, metadata map[string]string) error {
	return x.write(ctx, id, text, metadata, true)
}

// Replace re-indexes an id the backends may already hold. A partial failure
// is not rolled back: removing the id would also drop the entry it had
// before, so the backends already written keep the new text and the rest
// keep the old one until the next Rebuild.
func (x *Index) Replace(ctx context.Context, id, text string, metadata map[string]string) error {
	return x.write(ctx, id, text, metadata, false)
}

func (x *Index) write(ctx context.Context, id, text string, metadata map[string]string, rollback bool) error {
	if id == "" {
		return fmt.Errorf("similarity: id is required")
	}
	var done []Backend
	for _, b := range x.snapshot() {
		err := b.Add(ctx, id, text, metadata)
		if err == nil {
			done = append(done, b)
			continue
		}
		if unavailable(err) {
			x.drop(b, err)
			continue
		}
		if rollback {
			for _, d := range done {
				if rbErr := d.Remove(context.WithoutCancel(ctx), id); rbErr != nil {
					log.Printf("similarity: rollback of %s in %s failed: %v", id, d.Name(), rbErr)
				}
			}
		}
		return fmt.Errorf("similarity: add %s to %s: %w", id, b.Name(), err)
	}
	return nil
}

// Remove deletes id from every backend.
func (x *Index) Remove(ctx context.Context, id string) error {
	var firstErr error
	for _, b := range x.snapshot() {
		err := b.Remove(ctx, id)
		switch {
		case err == nil:
		case unavailable(err):
			x.drop(b, err)
		case firstErr == nil:
			firstErr = fmt.Errorf("similarity: remove %s from %s: %w", id, b.Name(), err)
		}
	}
	return firstErr
}

// Clear empties every backend.
func (x *Index) Clear(ctx context.Context) error {
	var firstErr error
	for _, b := range x.snapshot() {
		err := b.Clear(ctx)
		switch {
		case err == nil:
		case unavailable(err):
			x.drop(b, err)
		case firstErr == nil:
			firstErr = fmt.Errorf("similarity: clear %s: %w", b.Name(), err)
		}
	}
	return firstErr
}

// Rebuild replaces the contents of every backend with docs.
func (x *Index) Rebuild(ctx context.Context, docs []Document) error {
	if err := x.Clear(ctx); err != nil {
		return err
	}
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := x.Add(ctx, d.ID, d.Text, d.Metadata); err != nil {
			return err
		}
	}
	log.Printf("similarity: rebuilt index with %d documents", len(docs))
	return nil
}

// Search returns up to limit results from the best available backend,
// most similar first.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	for {
		b := x.snapshot()[0]
		results, err := b.Search(ctx, query, limit)
		if err == nil {
			return results, nil
		}
		if !unavailable(err) || !x.canDrop() {
			return nil, err
		}
		x.drop(b, err)
	}
}

// Similarity scores two texts with the best available backend. The result
// is in [0,1] and 0 when either text is empty. A dimension mismatch between
// model and store panics.
func (x *Index) Similarity(ctx context.Context, a, b string) float64 {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return 0
	}
	for {
		be := x.snapshot()[0]
		score, err := be.Similarity(ctx, a, b)
		if err == nil {
			return score
		}
		if errors.Is(err, embedding.ErrDimensionMismatch) {
			panic(err)
		}
		if !unavailable(err) || !x.canDrop() {
			// Cancellation or a failing last tier: fall back to plain overlap.
			return Jaccard(a, b)
		}
		x.drop(be, err)
	}
}

func (x *Index) canDrop() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.backends) > 1
}
