// Package codec defines the canonical serialization envelope shared by all
// backends and the version/audit history. Every backend stores the same byte
// representation for a given record, which keeps round-trip tests exact.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/devrev/omnistore/internal/model"
)

// Encode serializes a record to its canonical form: compact JSON with
// lexicographically ordered keys at every nesting level.
func Encode(rec model.Record) ([]byte, error) {
	if rec == nil {
		rec = model.Record{}
	}
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(rec)); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	// Encoder appends a trailing newline; the canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode deserializes a canonical record. Numeric field values decode as
// float64, matching what Encode produced them from.
func Decode(data []byte) (model.Record, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty record payload")
	}
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

// EncodeField serializes a single field value for backends that store fields
// individually (one hash field per record field). Plain strings pass through
// unwrapped so simple values stay greppable in the backend; strings that
// would themselves parse as JSON are quoted to keep DecodeField exact.
func EncodeField(value any) (string, error) {
	if s, ok := value.(string); ok {
		if !json.Valid([]byte(s)) {
			return s, nil
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode field: %w", err)
	}
	return string(data), nil
}

// DecodeField reverses EncodeField. Values that do not parse as JSON are
// returned as plain strings.
func DecodeField(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
