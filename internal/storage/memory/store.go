// Package memory provides an in-process implementation of the storage
// interfaces. It is used by tests and by deployments that do not need
// persistence.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scrypster/tessera/internal/storage"
	"github.com/scrypster/tessera/pkg/types"
)

// Store is a mutex-guarded map store. All values are cloned on the way in
// and on the way out, so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	entities map[string]*types.Entity
	order    []string // entity ids in insertion order

	relationships map[string]*types.Relationship

	candidates     map[string]*types.MergeCandidate
	candidateOrder []string

	merges []*types.MergeEvent
}

var (
	_ storage.EntityStore    = (*Store)(nil)
	_ storage.CandidateStore = (*Store)(nil)
	_ storage.MergeLog       = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		entities:      make(map[string]*types.Entity),
		relationships: make(map[string]*types.Relationship),
		candidates:    make(map[string]*types.MergeCandidate),
	}
}

func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *Store) SaveEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return storage.ErrInvalidInput
	}
	if entity.ID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if entity.Name == "" {
		return fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = now
	}
	if _, exists := s.entities[entity.ID]; !exists {
		s.order = append(s.order, entity.ID)
	}
	s.entities[entity.ID] = entity.Clone()
	return nil
}

func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.entities, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) ListEntities(ctx context.Context) ([]*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Entity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entities[id].Clone())
	}
	return out, nil
}

func (s *Store) RelationshipsForEntity(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Relationship
	for _, r := range s.relationships {
		if r.References(entityID) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveRelationship(ctx context.Context, rel *types.Relationship) error {
	if rel == nil {
		return storage.ErrInvalidInput
	}
	if rel.ID == "" {
		return fmt.Errorf("%w: relationship ID is required", storage.ErrInvalidInput)
	}
	if rel.SourceID == "" || rel.TargetID == "" {
		return fmt.Errorf("%w: relationship endpoints are required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = now
	}
	if rel.UpdatedAt.IsZero() {
		rel.UpdatedAt = now
	}
	s.relationships[rel.ID] = rel.Clone()
	return nil
}

func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.relationships[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.relationships, id)
	return nil
}

func (s *Store) PutCandidate(ctx context.Context, c *types.MergeCandidate) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: candidate ID is required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.candidates[c.ID]; !exists {
		s.candidateOrder = append(s.candidateOrder, c.ID)
	}
	s.candidates[c.ID] = c.Clone()
	return nil
}

func (s *Store) GetCandidate(ctx context.Context, id string) (*types.MergeCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.candidates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *Store) ListCandidates(ctx context.Context, status types.CandidateStatus) ([]*types.MergeCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.MergeCandidate
	for _, id := range s.candidateOrder {
		c := s.candidates[id]
		if status == "" || c.Status == status {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (s *Store) DeleteCandidate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.candidates[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.candidates, id)
	for i, oid := range s.candidateOrder {
		if oid == id {
			s.candidateOrder = append(s.candidateOrder[:i], s.candidateOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) RecordMerge(ctx context.Context, event *types.MergeEvent) error {
	if event == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	cp.Conflicts = append([]types.AttributeConflict(nil), event.Conflicts...)
	s.merges = append(s.merges, &cp)
	return nil
}

func (s *Store) ListMerges(ctx context.Context, limit int) ([]*types.MergeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.MergeEvent
	for i := len(s.merges) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *s.merges[i]
		out = append(out, &cp)
	}
	return out, nil
}
