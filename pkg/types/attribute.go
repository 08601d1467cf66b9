package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// AttributeKind identifies which variant an AttributeValue holds.
type AttributeKind uint8

const (
	AttributeNull AttributeKind = iota
	AttributeString
	AttributeNumber
	AttributeBool
)

// AttributeValue is a closed variant over the scalar types allowed in an
// entity attribute map: string, number or boolean. The zero value is null.
type AttributeValue struct {
	kind AttributeKind
	str  string
	num  float64
	b    bool
}

// StringValue returns a string attribute.
func StringValue(s string) AttributeValue { return AttributeValue{kind: AttributeString, str: s} }

// NumberValue returns a numeric attribute.
func NumberValue(n float64) AttributeValue { return AttributeValue{kind: AttributeNumber, num: n} }

// BoolValue returns a boolean attribute.
func BoolValue(b bool) AttributeValue { return AttributeValue{kind: AttributeBool, b: b} }

// Kind returns the variant held by v.
func (v AttributeValue) Kind() AttributeKind { return v.kind }

// IsNull reports whether v holds no value.
func (v AttributeValue) IsNull() bool { return v.kind == AttributeNull }

// Str returns the string payload and whether v is a string.
func (v AttributeValue) Str() (string, bool) { return v.str, v.kind == AttributeString }

// Number returns the numeric payload and whether v is a number.
func (v AttributeValue) Number() (float64, bool) { return v.num, v.kind == AttributeNumber }

// Bool returns the boolean payload and whether v is a boolean.
func (v AttributeValue) Bool() (bool, bool) { return v.b, v.kind == AttributeBool }

// Equal reports whether two values hold the same variant and payload.
func (v AttributeValue) Equal(o AttributeValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case AttributeString:
		return v.str == o.str
	case AttributeNumber:
		return v.num == o.num
	case AttributeBool:
		return v.b == o.b
	}
	return true
}

// String renders the value the way it appears in entity text ("100", "true").
func (v AttributeValue) String() string {
	switch v.kind {
	case AttributeString:
		return v.str
	case AttributeNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case AttributeBool:
		return strconv.FormatBool(v.b)
	}
	return ""
}

// MarshalJSON encodes the value as a plain JSON scalar.
func (v AttributeValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case AttributeString:
		return json.Marshal(v.str)
	case AttributeNumber:
		return json.Marshal(v.num)
	case AttributeBool:
		return json.Marshal(v.b)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes a JSON scalar. Arrays and objects are rejected.
func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = AttributeValue{}
	case string:
		*v = StringValue(x)
	case float64:
		*v = NumberValue(x)
	case bool:
		*v = BoolValue(x)
	default:
		return fmt.Errorf("attribute value must be a string, number or boolean, got %T", raw)
	}
	return nil
}
