package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/scrypster/tessera/internal/similarity"
	"github.com/scrypster/tessera/pkg/types"
)

// Band edges on distance = 1 - similarity, compared as similarities.
const (
	correctionMinSimilarity = 0.80 // distance < 0.20
	eventMinSimilarity      = 0.50 // distance < 0.50
	branchMaxSimilarity     = 0.20 // distance > 0.80
)

// Classifier explains how two similar entities relate. Its verdict is
// advisory: it never approves or rejects a merge by itself.
type Classifier struct {
	index *similarity.Index
}

// NewClassifier returns a classifier scoring text through index.
func NewClassifier(index *similarity.Index) *Classifier {
	return &Classifier{index: index}
}

// Categorize compares a freshly extracted entity with the canonical one.
func (c *Classifier) Categorize(ctx context.Context, staging, canonical *types.Entity) *types.ConflictAnalysis {
	return c.categorizeViews(ctx, NewView(staging), NewView(canonical))
}

func (c *Classifier) categorizeViews(ctx context.Context, staging, canonical *EntityView) *types.ConflictAnalysis {
	sim := c.index.Similarity(ctx, staging.Text, canonical.Text)
	changed := changedFields(staging, canonical)
	a := classify(sim, len(changed))
	a.ChangedFields = changed
	return a
}

// classify maps a similarity and change count onto a category.
func classify(sim float64, changes int) *types.ConflictAnalysis {
	dist := 1 - sim
	a := &types.ConflictAnalysis{
		Similarity:           sim,
		Distance:             dist,
		AttributeChangeCount: changes,
	}
	switch {
	case sim > correctionMinSimilarity:
		a.Category = types.CategoryCorrection
		a.SuggestedAction = types.ActionUpdate
		a.Reasoning = fmt.Sprintf("near-identical records (distance %.3f): treat as a correction and merge into the primary", dist)
	case sim > eventMinSimilarity && changes > 0:
		a.Category = types.CategoryEvent
		a.SuggestedAction = types.ActionUpdate
		a.Reasoning = fmt.Sprintf("same entity with %d changed field(s) (distance %.3f): record as a state change over time and keep prior values", changes, dist)
	case sim > eventMinSimilarity:
		a.Category = types.CategoryAmbiguous
		a.SuggestedAction = types.ActionReview
		a.Reasoning = fmt.Sprintf("moderately similar (distance %.3f) with no changed fields to explain the difference", dist)
	case sim < branchMaxSimilarity:
		a.Category = types.CategoryBranch
		a.SuggestedAction = types.ActionCreate
		a.Reasoning = fmt.Sprintf("records share little beyond surface features (distance %.3f): keep them separate", dist)
	default:
		a.Category = types.CategoryAmbiguous
		a.SuggestedAction = types.ActionReview
		a.Reasoning = fmt.Sprintf("weak similarity (distance %.3f): needs review", dist)
	}
	return a
}

// changedFields lists descriptor fields and attribute keys whose values
// differ between a and b. A key present on one side only counts as changed.
func changedFields(a, b *EntityView) []string {
	var out []string
	if !types.SameName(a.Name, b.Name) {
		out = append(out, "name")
	}
	if !strings.EqualFold(a.Type, b.Type) {
		out = append(out, "type")
	}
	if a.Description != b.Description {
		out = append(out, "description")
	}
	if !sameNameSet(a.Aliases, b.Aliases) {
		out = append(out, "aliases")
	}

	var attrs []string
	for k, va := range a.Attributes {
		if vb, ok := b.Attributes[k]; !ok || !va.Equal(vb) {
			attrs = append(attrs, k)
		}
	}
	for k := range b.Attributes {
		if _, ok := a.Attributes[k]; !ok {
			attrs = append(attrs, k)
		}
	}
	sort.Strings(attrs)
	for _, k := range attrs {
		out = append(out, "attributes."+k)
	}
	return out
}

func sameNameSet(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[normalize(s)] = true
	}
	other := make(map[string]bool, len(b))
	for _, s := range b {
		n := normalize(s)
		if !set[n] {
			return false
		}
		other[n] = true
	}
	return len(other) == len(set)
}

// normalize lowercases s and collapses runs of whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
