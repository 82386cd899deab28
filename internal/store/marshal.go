package store

import (
	"encoding/json"
	"fmt"

	"github.com/Mlorras/lightwave/internal/dirent"
)

// marshalValues encodes attribute values as a JSON array for the vals
// column. Each value is base64 so binary values survive unchanged; an
// attribute with no values is stored as [].
func marshalValues(vals [][]byte) (string, error) {
	if vals == nil {
		vals = [][]byte{}
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return "", fmt.Errorf("marshal values: %w", err)
	}
	return string(data), nil
}

// unmarshalValues decodes a vals column written by marshalValues.
func unmarshalValues(data string) ([][]byte, error) {
	var vals [][]byte
	if err := json.Unmarshal([]byte(data), &vals); err != nil {
		return nil, fmt.Errorf("unmarshal values: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return vals, nil
}

// marshalMeta serializes attribute metadata. Every stored attribute must
// carry metadata.
func marshalMeta(attrType string, m *dirent.AttrMetadata) (string, error) {
	if m == nil {
		return "", fmt.Errorf("attribute %s: missing metadata", attrType)
	}
	return m.String(), nil
}
