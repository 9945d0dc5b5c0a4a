package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/canvassync/internal/canvas"
)

// marshalElements converts an element list to JSON TEXT for storage.
// A nil list is stored as "[]".
func marshalElements(elements []canvas.Element) (string, error) {
	if elements == nil {
		elements = []canvas.Element{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return "", fmt.Errorf("marshal elements: %w", err)
	}
	return string(data), nil
}

// unmarshalElements parses stored JSON TEXT. Never returns a nil slice.
func unmarshalElements(data string) ([]canvas.Element, error) {
	var elements []canvas.Element
	if err := json.Unmarshal([]byte(data), &elements); err != nil {
		return nil, fmt.Errorf("unmarshal elements: %w", err)
	}
	if elements == nil {
		elements = []canvas.Element{}
	}
	return elements, nil
}
