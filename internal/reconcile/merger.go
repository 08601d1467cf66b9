package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/tessera/internal/similarity"
	"github.com/scrypster/tessera/internal/storage"
	"github.com/scrypster/tessera/pkg/types"
)

// Winner labels recorded on AttributeConflict.
const (
	winnerPrimary   = "a"
	winnerSecondary = "b"
)

// MergeOptions controls one Merge call.
type MergeOptions struct {
	// PreferSecondary lets the secondary win true conflicts. The survivor
	// keeps the primary's id either way.
	PreferSecondary bool

	Reason      string
	Similarity  float64
	Auto        bool
	CandidateID string
}

// MergeResult is the outcome of an executed merge.
type MergeResult struct {
	Entity *types.Entity
	Event  *types.MergeEvent
}

// Merger fuses two entities into one and moves the absorbed entity's
// relationships onto the survivor.
type Merger struct {
	store storage.EntityStore
	index *similarity.Index
	sink  AuditSink
	now   func() time.Time

	mu       sync.Mutex
	absorbed map[string]string // absorbed id -> surviving id
}

// NewMerger returns a merger writing through store and index. A nil sink
// discards audit events.
func NewMerger(store storage.EntityStore, index *similarity.Index, sink AuditSink) *Merger {
	return &Merger{
		store:    store,
		index:    index,
		sink:     sink,
		now:      func() time.Time { return time.Now().UTC() },
		absorbed: make(map[string]string),
	}
}

// PreviewMerge reconciles primary and secondary without persisting
// anything. The merged entity keeps the primary's id; every value that
// loses a conflict is kept in Conflicts.
func (m *Merger) PreviewMerge(primary, secondary *types.Entity, preferPrimary bool) *types.MergePreview {
	return PreviewMerge(primary, secondary, preferPrimary)
}

// PreviewMerge is the stateless form of Merger.PreviewMerge.
func PreviewMerge(primary, secondary *types.Entity, preferPrimary bool) *types.MergePreview {
	merged := primary.Clone()
	winner, loser := primary, secondary
	winLabel := winnerPrimary
	if !preferPrimary {
		winner, loser = secondary, primary
		winLabel = winnerSecondary
	}
	var conflicts []types.AttributeConflict

	merged.Name = strings.TrimSpace(winner.Name)
	if merged.Name == "" {
		merged.Name = strings.TrimSpace(loser.Name)
	}
	merged.Aliases = nil
	for _, a := range primary.Aliases {
		merged.AddAlias(a)
	}
	for _, a := range secondary.Aliases {
		merged.AddAlias(a)
	}
	merged.AddAlias(loser.Name)

	pt, st := strings.TrimSpace(primary.Type), strings.TrimSpace(secondary.Type)
	switch {
	case pt == "":
		merged.Type = st
	case st == "":
		merged.Type = pt
	default:
		merged.Type = strings.TrimSpace(winner.Type)
		if !strings.EqualFold(pt, st) {
			conflicts = append(conflicts, types.AttributeConflict{Field: "type", ValueA: pt, ValueB: st, Winner: winLabel})
		}
	}

	merged.Description = mergeDescriptions(strings.TrimSpace(winner.Description), strings.TrimSpace(loser.Description))

	merged.Attributes = make(map[string]types.AttributeValue, len(primary.Attributes)+len(secondary.Attributes))
	for k, v := range primary.Attributes {
		if !v.IsNull() {
			merged.Attributes[k] = v
		}
	}
	for k, vb := range secondary.Attributes {
		if vb.IsNull() {
			continue
		}
		va, ok := merged.Attributes[k]
		if !ok {
			merged.Attributes[k] = vb
			continue
		}
		if va.Equal(vb) {
			continue
		}
		conflicts = append(conflicts, types.AttributeConflict{
			Field:  "attributes." + k,
			ValueA: va.String(),
			ValueB: vb.String(),
			Winner: winLabel,
		})
		if !preferPrimary {
			merged.Attributes[k] = vb
		}
	}
	if len(merged.Attributes) == 0 {
		merged.Attributes = nil
	}

	merged.Tags = unionStrings(primary.Tags, secondary.Tags)
	merged.Sources = nil
	for _, s := range primary.Sources {
		merged.AddSource(s)
	}
	for _, s := range secondary.Sources {
		merged.AddSource(s)
	}

	sort.SliceStable(conflicts, func(i, j int) bool { return conflicts[i].Field < conflicts[j].Field })
	return &types.MergePreview{
		PrimaryID:   primary.ID,
		SecondaryID: secondary.ID,
		Merged:      merged,
		Conflicts:   conflicts,
	}
}

// mergeDescriptions keeps both texts when they differ, first one first.
// A text already contained in the other is not repeated.
func mergeDescriptions(first, second string) string {
	switch {
	case second == "" || first == second:
		return first
	case first == "":
		return second
	case strings.Contains(first, second):
		return first
	case strings.Contains(second, first):
		return second
	}
	return first + "\n\n" + second
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Merge absorbs secondaryID into primaryID. It persists the merged entity,
// moves relationships, deletes the secondary, updates the index and emits a
// MergeEvent.
//
// Merging an id into itself fails with ErrInvalidMerge. Merging an id that
// was already absorbed fails with an error matching both ErrInvalidMerge and
// storage.ErrNotFound. No state changes in either case.
func (m *Merger) Merge(ctx context.Context, primaryID, secondaryID string, opts MergeOptions) (*MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if primaryID == secondaryID {
		return nil, fmt.Errorf("%w: cannot merge %s with itself", ErrInvalidMerge, primaryID)
	}
	primary, err := m.load(ctx, primaryID)
	if err != nil {
		return nil, err
	}
	secondary, err := m.load(ctx, secondaryID)
	if err != nil {
		return nil, err
	}

	preview := PreviewMerge(primary, secondary, !opts.PreferSecondary)
	merged := preview.Merged
	if err := m.store.SaveEntity(ctx, merged); err != nil {
		return nil, fmt.Errorf("save merged entity %s: %w", primaryID, err)
	}

	moved, dups, loops, err := m.transferRelationships(ctx, primaryID, secondaryID)
	if err != nil {
		return nil, err
	}

	if err := m.store.DeleteEntity(ctx, secondaryID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("delete absorbed entity %s: %w", secondaryID, err)
	}
	m.absorbed[secondaryID] = primaryID
	for id, into := range m.absorbed {
		if into == secondaryID {
			m.absorbed[id] = primaryID
		}
	}

	if m.index != nil {
		if err := m.index.Remove(ctx, secondaryID); err != nil {
			log.Printf("reconcile: removing %s from index: %v", secondaryID, err)
		}
		view := NewView(merged)
		if err := m.index.Replace(ctx, merged.ID, view.Text, view.Metadata()); err != nil {
			log.Printf("reconcile: reindexing %s: %v", merged.ID, err)
		}
	}

	event := &types.MergeEvent{
		ID:                   types.NewMergeEventID(),
		PrimaryID:            primaryID,
		AbsorbedID:           secondaryID,
		AbsorbedName:         secondary.Name,
		Similarity:           opts.Similarity,
		Auto:                 opts.Auto,
		Reason:               opts.Reason,
		Conflicts:            preview.Conflicts,
		TransferredRelations: moved,
		DroppedDuplicates:    dups,
		DroppedSelfLoops:     loops,
		CandidateID:          opts.CandidateID,
		CreatedAt:            m.now(),
	}
	if m.sink != nil {
		if err := m.sink.RecordMerge(context.WithoutCancel(ctx), event); err != nil {
			log.Printf("reconcile: recording merge %s: %v", event.ID, err)
		}
	}
	return &MergeResult{Entity: merged.Clone(), Event: event}, nil
}

// AbsorbedInto reports the surviving id for an id consumed by a merge.
func (m *Merger) AbsorbedInto(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	into, ok := m.absorbed[id]
	return into, ok
}

func (m *Merger) load(ctx context.Context, id string) (*types.Entity, error) {
	e, err := m.store.GetEntity(ctx, id)
	if err == nil {
		return e, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		if into, ok := m.absorbed[id]; ok {
			return nil, fmt.Errorf("%w: %s was already merged into %s: %w", ErrInvalidMerge, id, into, err)
		}
		return nil, fmt.Errorf("entity %s: %w", id, err)
	}
	return nil, fmt.Errorf("load entity %s: %w", id, err)
}

// transferRelationships rewrites every relationship touching secondaryID to
// touch primaryID instead. Rewrites that would duplicate an existing
// (source, target, type) triple or become self-loops are deleted.
func (m *Merger) transferRelationships(ctx context.Context, primaryID, secondaryID string) (moved, dups, loops int, err error) {
	existing, err := m.store.RelationshipsForEntity(ctx, primaryID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("relationships of %s: %w", primaryID, err)
	}
	triples := make(map[string]bool, len(existing))
	for _, r := range existing {
		if !r.References(secondaryID) {
			triples[r.TripleKey()] = true
		}
	}

	rels, err := m.store.RelationshipsForEntity(ctx, secondaryID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("relationships of %s: %w", secondaryID, err)
	}
	for _, r := range rels {
		rewritten := r.Clone()
		if rewritten.SourceID == secondaryID {
			rewritten.SourceID = primaryID
		}
		if rewritten.TargetID == secondaryID {
			rewritten.TargetID = primaryID
		}

		drop := false
		switch {
		case rewritten.IsSelfLoop():
			loops++
			drop = true
		case triples[rewritten.TripleKey()]:
			dups++
			drop = true
		}
		if drop {
			if err := m.store.DeleteRelationship(ctx, r.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return moved, dups, loops, fmt.Errorf("delete relationship %s: %w", r.ID, err)
			}
			continue
		}

		rewritten.UpdatedAt = m.now()
		if err := m.store.SaveRelationship(ctx, rewritten); err != nil {
			return moved, dups, loops, fmt.Errorf("save relationship %s: %w", r.ID, err)
		}
		triples[rewritten.TripleKey()] = true
		moved++
	}
	return moved, dups, loops, nil
}
