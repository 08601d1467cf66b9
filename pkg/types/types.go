// Package types defines the core data structures shared by the Tessera
// reconciliation engine: entities and their typed attributes, relationships,
// and the artifacts produced while reconciling them (search results, merge
// candidates, conflict analyses, merge previews and audit events).
package types

import (
	"strings"

	"github.com/google/uuid"
)

// Entity ID prefixes.
const (
	EntityIDPrefix       = "ent:"
	RelationshipIDPrefix = "rel:"
	CandidateIDPrefix    = "merge:"
	MergeEventIDPrefix   = "mevt:"
)

// NewEntityID returns a fresh entity identifier (format: ent:uuid).
func NewEntityID() string {
	return EntityIDPrefix + uuid.New().String()
}

// NewRelationshipID returns a fresh relationship identifier (format: rel:uuid).
func NewRelationshipID() string {
	return RelationshipIDPrefix + uuid.New().String()
}

// NewCandidateID returns a fresh merge candidate identifier (format: merge:uuid).
func NewCandidateID() string {
	return CandidateIDPrefix + uuid.New().String()
}

// NewMergeEventID returns a fresh merge audit event identifier (format: mevt:uuid).
func NewMergeEventID() string {
	return MergeEventIDPrefix + uuid.New().String()
}

// PairKey returns an order-independent key for two entity IDs.
// PairKey(a, b) == PairKey(b, a).
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// normalizeName lowercases and collapses whitespace for name comparisons.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// SameName reports whether two names are equal ignoring case and spacing.
func SameName(a, b string) bool {
	return normalizeName(a) == normalizeName(b)
}
