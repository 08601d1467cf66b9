package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("ent:a", "ent:b"), PairKey("ent:b", "ent:a"))
	assert.NotEqual(t, PairKey("ent:a", "ent:b"), PairKey("ent:a", "ent:c"))
}

func TestNewIDs(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewEntityID(), EntityIDPrefix))
	assert.True(t, strings.HasPrefix(NewRelationshipID(), RelationshipIDPrefix))
	assert.True(t, strings.HasPrefix(NewCandidateID(), CandidateIDPrefix))
	assert.True(t, strings.HasPrefix(NewMergeEventID(), MergeEventIDPrefix))
	assert.NotEqual(t, NewEntityID(), NewEntityID())
}

func TestEntityAddAlias(t *testing.T) {
	e := &Entity{Name: "John Smith"}

	e.AddAlias("Agent X")
	e.AddAlias("agent  x")
	e.AddAlias("JOHN SMITH")
	e.AddAlias("  ")
	e.AddAlias("Nightfall")

	assert.Equal(t, []string{"Agent X", "Nightfall"}, e.Aliases)
	assert.True(t, e.HasAlias("nightfall"))
	assert.True(t, e.HasAlias("john smith"))
	assert.False(t, e.HasAlias("Jane"))
}

func TestEntityAddSource(t *testing.T) {
	e := &Entity{}
	e.AddSource("chunk-1")
	e.AddSource("chunk-1")
	e.AddSource("")
	e.AddSource("chunk-2")
	assert.Equal(t, []string{"chunk-1", "chunk-2"}, e.Sources)
}

func TestEntityCloneIsDeep(t *testing.T) {
	e := &Entity{
		ID:         "ent:1",
		Name:       "Marcus",
		Aliases:    []string{"M"},
		Attributes: map[string]AttributeValue{"gold": NumberValue(100)},
	}
	c := e.Clone()
	c.Aliases[0] = "changed"
	c.Attributes["gold"] = NumberValue(0)

	assert.Equal(t, "M", e.Aliases[0])
	assert.True(t, e.Attributes["gold"].Equal(NumberValue(100)))
	assert.Nil(t, (*Entity)(nil).Clone())
}

func TestRelationshipHelpers(t *testing.T) {
	r := &Relationship{ID: "rel:1", SourceID: "ent:a", TargetID: "ent:b", Type: "knows", Sources: []string{"c1"}}
	assert.True(t, r.References("ent:a"))
	assert.True(t, r.References("ent:b"))
	assert.False(t, r.References("ent:c"))
	assert.False(t, r.IsSelfLoop())

	dup := &Relationship{ID: "rel:2", SourceID: "ent:a", TargetID: "ent:b", Type: "knows"}
	assert.Equal(t, r.TripleKey(), dup.TripleKey())
	rev := &Relationship{ID: "rel:3", SourceID: "ent:b", TargetID: "ent:a", Type: "knows"}
	assert.NotEqual(t, r.TripleKey(), rev.TripleKey())

	c := r.Clone()
	c.Sources[0] = "changed"
	assert.Equal(t, "c1", r.Sources[0])
}

func TestAttributeValueJSON(t *testing.T) {
	in := map[string]AttributeValue{
		"name":  StringValue("Vane"),
		"gold":  NumberValue(100),
		"alive": BoolValue(true),
		"none":  {},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Vane","gold":100,"alive":true,"none":null}`, string(data))

	var out map[string]AttributeValue
	require.NoError(t, json.Unmarshal(data, &out))
	for k, v := range in {
		assert.True(t, v.Equal(out[k]), k)
	}
	assert.True(t, out["none"].IsNull())

	var bad AttributeValue
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &bad))
}

func TestAttributeValueEqualAndString(t *testing.T) {
	assert.True(t, NumberValue(1).Equal(NumberValue(1)))
	assert.False(t, NumberValue(1).Equal(StringValue("1")), "kinds must match")
	assert.False(t, BoolValue(true).Equal(BoolValue(false)))
	assert.Equal(t, "100", NumberValue(100).String())
	assert.Equal(t, "0.5", NumberValue(0.5).String())
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "Vane", StringValue("Vane").String())
}

func TestMergeCandidateClone(t *testing.T) {
	c := &MergeCandidate{
		ID:        "merge:1",
		EntityAID: "ent:b",
		EntityBID: "ent:a",
		Analysis:  &ConflictAnalysis{ChangedFields: []string{"gold"}},
	}
	cp := c.Clone()
	cp.Analysis.ChangedFields[0] = "x"
	assert.Equal(t, "gold", c.Analysis.ChangedFields[0])
	assert.Equal(t, PairKey("ent:a", "ent:b"), c.PairKey())
}

func TestParseBatch(t *testing.T) {
	b, err := ParseBatch([]byte(` [{"name":"John Smith","aliases":["Agent X"]},{"name":"Berlin"}]`))
	require.NoError(t, err)
	assert.Empty(t, b.Source)
	require.Len(t, b.Entities, 2)
	assert.Equal(t, []string{"Agent X"}, b.Entities[0].Aliases)

	b, err = ParseBatch([]byte(`{"source":"chunk:12","entities":[{"name":"Riverton","attributes":{"population":1200}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "chunk:12", b.Source)
	assert.Equal(t, NumberValue(1200), b.Entities[0].Attributes["population"])

	for _, bad := range []string{"", "  ", "[", `[{"name":""}]`, `{"entities":[null]}`, `[{"name":"x","attributes":{"k":[1]}}]`} {
		_, err := ParseBatch([]byte(bad))
		assert.Error(t, err, bad)
	}
}
