// Package storagetest holds behaviour tests shared by every storage
// implementation.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/tessera/internal/storage"
	"github.com/scrypster/tessera/pkg/types"
)

// Store is the combination of interfaces a full backend provides.
type Store interface {
	storage.EntityStore
	storage.CandidateStore
	storage.MergeLog
}

func sampleEntity(id, name string) *types.Entity {
	return &types.Entity{
		ID:          id,
		Name:        name,
		Type:        "person",
		Description: "A merchant in Riverton",
		Aliases:     []string{"The Merchant"},
		Tags:        []string{"npc"},
		Attributes: map[string]types.AttributeValue{
			"gold":  types.NumberValue(100),
			"alive": types.BoolValue(true),
			"title": types.StringValue("Guildmaster"),
		},
		Sources: []string{"chapter-1.md"},
	}
}

// RunStoreTests exercises the full storage contract against a fresh store
// returned by newStore.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("EntityRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		in := sampleEntity("ent:1", "Marcus Vane")
		require.NoError(t, s.SaveEntity(ctx, in))

		got, err := s.GetEntity(ctx, "ent:1")
		require.NoError(t, err)
		assert.Equal(t, "Marcus Vane", got.Name)
		assert.Equal(t, "person", got.Type)
		assert.Equal(t, []string{"The Merchant"}, got.Aliases)
		assert.Equal(t, []string{"npc"}, got.Tags)
		assert.Equal(t, []string{"chapter-1.md"}, got.Sources)
		assert.True(t, got.Attributes["gold"].Equal(types.NumberValue(100)))
		assert.True(t, got.Attributes["alive"].Equal(types.BoolValue(true)))
		assert.True(t, got.Attributes["title"].Equal(types.StringValue("Guildmaster")))
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("EntityIsolation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		in := sampleEntity("ent:1", "Marcus Vane")
		require.NoError(t, s.SaveEntity(ctx, in))
		in.Aliases[0] = "mutated"

		got, err := s.GetEntity(ctx, "ent:1")
		require.NoError(t, err)
		got.Attributes["gold"] = types.NumberValue(0)

		again, err := s.GetEntity(ctx, "ent:1")
		require.NoError(t, err)
		assert.Equal(t, []string{"The Merchant"}, again.Aliases)
		assert.True(t, again.Attributes["gold"].Equal(types.NumberValue(100)))
	})

	t.Run("EntityUpsertAndOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveEntity(ctx, sampleEntity("ent:b", "Bravo")))
		require.NoError(t, s.SaveEntity(ctx, sampleEntity("ent:a", "Alpha")))

		updated := sampleEntity("ent:b", "Bravo Prime")
		require.NoError(t, s.SaveEntity(ctx, updated))

		all, err := s.ListEntities(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "ent:b", all[0].ID)
		assert.Equal(t, "Bravo Prime", all[0].Name)
		assert.Equal(t, "ent:a", all[1].ID)
	})

	t.Run("EntityValidation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		assert.ErrorIs(t, s.SaveEntity(ctx, nil), storage.ErrInvalidInput)
		assert.ErrorIs(t, s.SaveEntity(ctx, &types.Entity{Name: "x"}), storage.ErrInvalidInput)
		assert.ErrorIs(t, s.SaveEntity(ctx, &types.Entity{ID: "ent:x"}), storage.ErrInvalidInput)
	})

	t.Run("EntityNotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetEntity(ctx, "ent:missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, s.DeleteEntity(ctx, "ent:missing"), storage.ErrNotFound)
	})

	t.Run("EntityDelete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveEntity(ctx, sampleEntity("ent:1", "One")))
		require.NoError(t, s.DeleteEntity(ctx, "ent:1"))

		_, err := s.GetEntity(ctx, "ent:1")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		all, err := s.ListEntities(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("Relationships", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		base := time.Now().UTC().Truncate(time.Second)
		r1 := &types.Relationship{ID: "rel:1", SourceID: "ent:a", TargetID: "ent:b", Type: "knows", Strength: 0.5, CreatedAt: base}
		r2 := &types.Relationship{ID: "rel:2", SourceID: "ent:c", TargetID: "ent:a", Type: "employs", CreatedAt: base.Add(time.Second)}
		r3 := &types.Relationship{ID: "rel:3", SourceID: "ent:c", TargetID: "ent:d", Type: "knows", CreatedAt: base.Add(2 * time.Second)}
		for _, r := range []*types.Relationship{r1, r2, r3} {
			require.NoError(t, s.SaveRelationship(ctx, r))
		}

		rels, err := s.RelationshipsForEntity(ctx, "ent:a")
		require.NoError(t, err)
		require.Len(t, rels, 2)
		assert.Equal(t, "rel:1", rels[0].ID)
		assert.Equal(t, "rel:2", rels[1].ID)
		assert.InDelta(t, 0.5, rels[0].Strength, 1e-9)

		r1.TargetID = "ent:d"
		require.NoError(t, s.SaveRelationship(ctx, r1))
		rels, err = s.RelationshipsForEntity(ctx, "ent:b")
		require.NoError(t, err)
		assert.Empty(t, rels)

		require.NoError(t, s.DeleteRelationship(ctx, "rel:2"))
		assert.ErrorIs(t, s.DeleteRelationship(ctx, "rel:2"), storage.ErrNotFound)

		rels, err = s.RelationshipsForEntity(ctx, "ent:a")
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, "rel:1", rels[0].ID)
	})

	t.Run("Candidates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c1 := &types.MergeCandidate{
			ID: "merge:1", EntityAID: "ent:a", EntityAName: "A", EntityBID: "ent:b", EntityBName: "B",
			Similarity: 0.9, Status: types.CandidatePending, CreatedAt: time.Now().UTC(),
			Analysis: &types.ConflictAnalysis{
				Category:        types.CategoryEvent,
				Similarity:      0.7,
				Distance:        0.3,
				ChangedFields:   []string{"gold"},
				SuggestedAction: types.ActionUpdate,
			},
		}
		c2 := &types.MergeCandidate{
			ID: "merge:2", EntityAID: "ent:c", EntityBID: "ent:d",
			Similarity: 0.85, Status: types.CandidatePending, CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.PutCandidate(ctx, c1))
		require.NoError(t, s.PutCandidate(ctx, c2))

		got, err := s.GetCandidate(ctx, "merge:1")
		require.NoError(t, err)
		require.NotNil(t, got.Analysis)
		assert.Equal(t, types.CategoryEvent, got.Analysis.Category)
		assert.Equal(t, []string{"gold"}, got.Analysis.ChangedFields)

		c2.Status = types.CandidateRejected
		require.NoError(t, s.PutCandidate(ctx, c2))

		pending, err := s.ListCandidates(ctx, types.CandidatePending)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "merge:1", pending[0].ID)

		all, err := s.ListCandidates(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, s.DeleteCandidate(ctx, "merge:1"))
		_, err = s.GetCandidate(ctx, "merge:1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("MergeLog", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		base := time.Now().UTC().Truncate(time.Second)
		for i, id := range []string{"evt:1", "evt:2", "evt:3"} {
			require.NoError(t, s.RecordMerge(ctx, &types.MergeEvent{
				ID:         id,
				PrimaryID:  "ent:a",
				AbsorbedID: "ent:b",
				Similarity: 0.97,
				Auto:       i%2 == 0,
				Conflicts:  []types.AttributeConflict{{Field: "gold", ValueA: "100", ValueB: "0", Winner: "a"}},
				CreatedAt:  base.Add(time.Duration(i) * time.Second),
			}))
		}

		recent, err := s.ListMerges(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "evt:3", recent[0].ID)
		assert.Equal(t, "evt:2", recent[1].ID)
		assert.True(t, recent[0].Auto)
		require.Len(t, recent[0].Conflicts, 1)
		assert.Equal(t, "gold", recent[0].Conflicts[0].Field)
	})
}
