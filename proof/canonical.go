package proof

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// CanonicalJSON serializes v to a deterministic byte representation:
// object keys are sorted lexicographically at every nesting depth, array
// order is preserved, and numbers keep their source literal form. Two
// logically equal values whose keys were inserted in different order
// produce identical bytes, which is what makes the response hash stable.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical serialize: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	// Literal number forms survive the round trip; float re-formatting
	// would otherwise change the hash for values like 1e3 vs 1000.
	dec.UseNumber()

	var node any
	if err := dec.Decode(&node); err != nil {
		return nil, fmt.Errorf("canonical serialize: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, node); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, node any) error {
	switch value := node.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if value {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(value.String())
	case string:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("canonical serialize: %w", err)
		}
		buf.Write(encoded)
	case []any:
		buf.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodedKey, err := json.Marshal(key)
			if err != nil {
				return fmt.Errorf("canonical serialize: %w", err)
			}
			buf.Write(encodedKey)
			buf.WriteByte(':')
			if err := writeCanonical(buf, value[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return errors.New("canonical serialize: unsupported node type")
	}
	return nil
}
