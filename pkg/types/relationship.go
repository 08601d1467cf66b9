package types

import "time"

// Relationship is a directed, typed edge between two entities.
type Relationship struct {
	ID       string `json:"id"`        // Unique identifier (format: rel:uuid)
	SourceID string `json:"source_id"` // Source entity ID
	TargetID string `json:"target_id"` // Target entity ID
	Type     string `json:"type"`      // Relationship type (e.g. "works_for", "located_in")

	Strength    float64  `json:"strength,omitempty"`    // Relationship strength (0.0-1.0)
	Description string   `json:"description,omitempty"` // Optional free text
	Sources     []string `json:"sources,omitempty"`     // Source chunks that support this relationship

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TripleKey identifies a relationship by (source, target, type).
// Two relationships with the same triple are duplicates.
func (r *Relationship) TripleKey() string {
	return r.SourceID + "\x00" + r.TargetID + "\x00" + r.Type
}

// References reports whether the relationship touches entityID at either end.
func (r *Relationship) References(entityID string) bool {
	return r.SourceID == entityID || r.TargetID == entityID
}

// IsSelfLoop reports whether source and target are the same entity.
func (r *Relationship) IsSelfLoop() bool {
	return r.SourceID == r.TargetID
}

// Clone returns a deep copy of the relationship.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	c := *r
	c.Sources = append([]string(nil), r.Sources...)
	return &c
}
