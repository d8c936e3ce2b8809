package graphql

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field decodes the top-level field name of data into T. A missing or null
// field, or a value of the wrong JSON type, fails with ErrShapeMismatch.
func Field[T any](data json.RawMessage, name string) (T, error) {
	var zero T

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return zero, fmt.Errorf("%w: payload is not an object: %v", ErrShapeMismatch, err)
	}
	raw, ok := fields[name]
	if !ok {
		return zero, fmt.Errorf("%w: missing field %q", ErrShapeMismatch, name)
	}
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return zero, fmt.Errorf("%w: field %q is null", ErrShapeMismatch, name)
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("%w: field %q: %v", ErrShapeMismatch, name, err)
	}
	return out, nil
}
