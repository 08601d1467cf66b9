package types

import "time"

// Entity is a named thing extracted from project documents: a person,
// organization, location, item, concept and so on.
//
// The ID is immutable once assigned and Name is never empty for a persisted
// entity. Entities are owned by the storage layer; the reconciliation engine
// only writes them back through explicit save calls.
type Entity struct {
	// Core identification fields
	ID          string   `json:"id"`                    // Unique identifier (format: ent:uuid)
	Name        string   `json:"name"`                  // Display name
	Type        string   `json:"type,omitempty"`        // Entity type (person, organization, ...)
	Description string   `json:"description,omitempty"` // Biography / description text
	Aliases     []string `json:"aliases,omitempty"`     // Alternative names, ordered, no duplicates
	Tags        []string `json:"tags,omitempty"`        // User-defined tags

	// Open attribute map with typed scalar values
	Attributes map[string]AttributeValue `json:"attributes,omitempty"`

	// Provenance: source documents / chunks that contributed to this record
	Sources []string `json:"sources,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Aliases = append([]string(nil), e.Aliases...)
	c.Tags = append([]string(nil), e.Tags...)
	c.Sources = append([]string(nil), e.Sources...)
	if e.Attributes != nil {
		c.Attributes = make(map[string]AttributeValue, len(e.Attributes))
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// HasAlias reports whether name matches the entity name or one of its aliases,
// ignoring case and whitespace.
func (e *Entity) HasAlias(name string) bool {
	if SameName(e.Name, name) {
		return true
	}
	for _, a := range e.Aliases {
		if SameName(a, name) {
			return true
		}
	}
	return false
}

// AddAlias appends name to the alias list unless it is empty, equal to the
// entity name, or already present.
func (e *Entity) AddAlias(name string) {
	if normalizeName(name) == "" || e.HasAlias(name) {
		return
	}
	e.Aliases = append(e.Aliases, name)
}

// AddSource appends a provenance reference if it is not already recorded.
func (e *Entity) AddSource(source string) {
	if source == "" {
		return
	}
	for _, s := range e.Sources {
		if s == source {
			return
		}
	}
	e.Sources = append(e.Sources, source)
}
