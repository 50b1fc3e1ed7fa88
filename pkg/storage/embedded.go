package storage

import (
	"encoding/json"
	"fmt"
)

// RewriteEmbeddedField returns a copy of element with the named field
// replaced, via a JSON round trip. The element must marshal to a JSON object.
func RewriteEmbeddedField[E comparable](element E, field string, value any) (E, error) {
	var zero E

	raw, err := json.Marshal(element)
	if err != nil {
		return zero, fmt.Errorf("encode embedded element: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return zero, fmt.Errorf("embedded element is not a struct-like value: %w", err)
	}

	fields[field] = value

	raw, err = json.Marshal(fields)
	if err != nil {
		return zero, fmt.Errorf("encode embedded element: %w", err)
	}

	var updated E
	if err := json.Unmarshal(raw, &updated); err != nil {
		return zero, fmt.Errorf("decode embedded element: %w", err)
	}

	return updated, nil
}
