package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Batch is one delivery of freshly extracted entities. Source is the chunk
// reference recorded as provenance.
type Batch struct {
	Source   string    `json:"source,omitempty"`
	Entities []*Entity `json:"entities"`
}

// ParseBatch accepts either a JSON array of entities or a Batch object.
func ParseBatch(data []byte) (*Batch, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty batch")
	}
	var b Batch
	if data[0] == '[' {
		if err := json.Unmarshal(data, &b.Entities); err != nil {
			return nil, fmt.Errorf("decode entity array: %w", err)
		}
	} else if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	for i, e := range b.Entities {
		if e == nil || e.Name == "" {
			return nil, fmt.Errorf("entity %d: name is required", i)
		}
	}
	return &b, nil
}
