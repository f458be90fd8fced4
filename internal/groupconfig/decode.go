package groupconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// orderedField is one key/value pair from a JSON object, in source order.
type orderedField struct {
	Key   string
	Value json.RawMessage
}

// decodeOrderedObject parses data as a single JSON object, preserving key
// order. encoding/json's map decoding does not, and §4.G's pre-order offset
// assignment for a group's composite schema depends on the declaration
// order of its fields — the one place in this configuration format where
// JSON object order is semantically meaningful rather than incidental.
func decodeOrderedObject(data []byte) ([]orderedField, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, fmt.Errorf("groupconfig: expected a JSON object")
	}

	var fields []orderedField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("groupconfig: expected a string key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("groupconfig: decoding value for %q: %w", key, err)
		}
		fields = append(fields, orderedField{Key: key, Value: raw})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}
