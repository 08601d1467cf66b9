package reconcile

import (
	"sort"
	"strings"

	"github.com/scrypster/tessera/pkg/types"
)

// maxRenderedValueLen excludes long free-text attribute values from the
// rendered text; they are descriptive prose, not short scalar facts.
const maxRenderedValueLen = 120

// EntityView is a normalised, read-only projection of an entity built once
// and reused by rendering, clustering, classification and alias checks.
type EntityView struct {
	ID          string
	Name        string
	Type        string
	Description string
	Aliases     []string

	// Attributes holds the non-null attributes; Keys lists them sorted.
	Attributes map[string]types.AttributeValue
	Keys       []string

	// Text is the full-text rendering used for similarity.
	Text string
}

// NewView builds the view for e.
func NewView(e *types.Entity) *EntityView {
	v := &EntityView{
		ID:          e.ID,
		Name:        strings.TrimSpace(e.Name),
		Type:        strings.TrimSpace(e.Type),
		Description: strings.TrimSpace(e.Description),
		Attributes:  make(map[string]types.AttributeValue, len(e.Attributes)),
	}
	for _, a := range e.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			v.Aliases = append(v.Aliases, a)
		}
	}
	for k, val := range e.Attributes {
		if val.IsNull() {
			continue
		}
		v.Attributes[k] = val
		v.Keys = append(v.Keys, k)
	}
	sort.Strings(v.Keys)
	v.Text = v.render()
	return v
}

// render produces:
//
//	Name (type)
//	description
//	aliases: A, B
//	key: value
func (v *EntityView) render() string {
	var b strings.Builder
	b.WriteString(v.Name)
	if v.Type != "" {
		b.WriteString(" (" + v.Type + ")")
	}
	if v.Description != "" {
		b.WriteString("\n" + v.Description)
	}
	if len(v.Aliases) > 0 {
		b.WriteString("\naliases: " + strings.Join(v.Aliases, ", "))
	}
	for _, k := range v.Keys {
		s := v.Attributes[k].String()
		if len(s) > maxRenderedValueLen {
			continue
		}
		b.WriteString("\n" + k + ": " + s)
	}
	return b.String()
}

// Names returns the entity name followed by its aliases.
func (v *EntityView) Names() []string {
	return append([]string{v.Name}, v.Aliases...)
}

// Metadata is attached to index entries for the entity.
func (v *EntityView) Metadata() map[string]string {
	md := map[string]string{"name": v.Name}
	if v.Type != "" {
		md["type"] = v.Type
	}
	return md
}

// Render returns the full-text rendering of e.
func Render(e *types.Entity) string {
	return NewView(e).Text
}
