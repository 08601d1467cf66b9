package types

import "time"

// SearchResult is one hit returned by the similarity index.
// Score is in [0,1]; higher means more similar.
type SearchResult struct {
	EntityID    string            `json:"entity_id"`
	MatchedText string            `json:"matched_text"`
	Score       float64           `json:"score"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CandidateStatus is the lifecycle state of a merge candidate.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateApproved CandidateStatus = "approved"
	CandidateRejected CandidateStatus = "rejected"
)

// MergeCandidate proposes that EntityAID and EntityBID refer to the same
// real-world entity. EntityA is the entity that was already known and is the
// default merge primary; EntityB is the newly observed one.
type MergeCandidate struct {
	ID          string            `json:"id"`
	EntityAID   string            `json:"entity_a_id"`
	EntityAName string            `json:"entity_a_name"`
	EntityBID   string            `json:"entity_b_id"`
	EntityBName string            `json:"entity_b_name"`
	Similarity  float64           `json:"similarity"`
	Status      CandidateStatus   `json:"status"`
	Analysis    *ConflictAnalysis `json:"analysis,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// PairKey returns the unordered pair key for the candidate's two entities.
func (c *MergeCandidate) PairKey() string {
	return PairKey(c.EntityAID, c.EntityBID)
}

// Clone returns a copy of the candidate that shares nothing with c.
func (c *MergeCandidate) Clone() *MergeCandidate {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Analysis != nil {
		a := *c.Analysis
		a.ChangedFields = append([]string(nil), c.Analysis.ChangedFields...)
		cp.Analysis = &a
	}
	return &cp
}

// ConflictCategory classifies the relationship between two similar entities.
type ConflictCategory string

const (
	// CategoryCorrection: same entity, typo or minor fix.
	CategoryCorrection ConflictCategory = "correction"
	// CategoryEvent: same entity whose state changed over time.
	CategoryEvent ConflictCategory = "event"
	// CategoryBranch: different entities with superficially similar names.
	CategoryBranch ConflictCategory = "branch"
	// CategoryAmbiguous: no clear driver, needs review.
	CategoryAmbiguous ConflictCategory = "ambiguous"
)

// SuggestedAction is the classifier's recommendation for a pair.
type SuggestedAction string

const (
	ActionUpdate SuggestedAction = "UPDATE"
	ActionCreate SuggestedAction = "CREATE"
	ActionReview SuggestedAction = "REVIEW"
)

// ConflictAnalysis is the derived, non-persisted verdict of the classifier.
type ConflictAnalysis struct {
	Category             ConflictCategory `json:"category"`
	Similarity           float64          `json:"similarity"`
	Distance             float64          `json:"distance"`
	AttributeChangeCount int              `json:"attribute_change_count"`
	ChangedFields        []string         `json:"changed_fields,omitempty"`
	Reasoning            string           `json:"reasoning"`
	SuggestedAction      SuggestedAction  `json:"suggested_action"`
}

// AttributeConflict records a field where both entities carried different
// non-null values. Nothing is dropped silently: the losing value stays here.
type AttributeConflict struct {
	Field  string `json:"field"`
	ValueA string `json:"value_a"`
	ValueB string `json:"value_b"`
	Winner string `json:"winner"` // "a" or "b"
}

// MergePreview is the result of reconciling two entities without persisting
// anything. Merged keeps the primary's ID.
type MergePreview struct {
	PrimaryID   string              `json:"primary_id"`
	SecondaryID string              `json:"secondary_id"`
	Merged      *Entity             `json:"merged"`
	Conflicts   []AttributeConflict `json:"conflicts"`
}

// AliasSuggestion proposes that NewEntity is an alias of ExistingEntity.
type AliasSuggestion struct {
	NewEntity                      *Entity `json:"new_entity"`
	ExistingEntity                 *Entity `json:"existing_entity"`
	Similarity                     float64 `json:"similarity"`
	Reasoning                      string  `json:"reasoning"`
	IsPossibleTransliterationError bool    `json:"is_possible_transliteration_error"`
}

// MergeEvent is the audit record emitted for every executed merge.
type MergeEvent struct {
	ID                   string              `json:"id"`
	PrimaryID            string              `json:"primary_id"`
	AbsorbedID           string              `json:"absorbed_id"`
	AbsorbedName         string              `json:"absorbed_name"`
	Similarity           float64             `json:"similarity"`
	Auto                 bool                `json:"auto"`
	Reason               string              `json:"reason"`
	Conflicts            []AttributeConflict `json:"conflicts,omitempty"`
	TransferredRelations int                 `json:"transferred_relations"`
	DroppedDuplicates    int                 `json:"dropped_duplicates"`
	DroppedSelfLoops     int                 `json:"dropped_self_loops"`
	CandidateID          string              `json:"candidate_id,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
}

// DuplicatePair is one result of a bulk "find probable duplicates" scan.
type DuplicatePair struct {
	EntityA    *Entity `json:"entity_a"`
	EntityB    *Entity `json:"entity_b"`
	Similarity float64 `json:"similarity"`
}
