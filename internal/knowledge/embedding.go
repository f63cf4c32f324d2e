package knowledge

import (
	"encoding/json"
	"strings"
)

// ParseEmbedding converts a stored embedding into a vector, tolerating the
// formats that have appeared in the table over time:
//
//   - pgvector text form: [0.1,0.2,0.3] (also valid JSON)
//   - a JSON array stored in a text column
//   - a double-encoded JSON string: "\"[0.1,0.2]\""
//
// Returns nil for anything unparseable or empty; callers treat a nil vector
// as "semantic score unavailable", never as an error.
func ParseEmbedding(raw string) []float32 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	// Unwrap a JSON-encoded string before parsing the array.
	if strings.HasPrefix(raw, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(raw), &inner); err != nil {
			return nil
		}
		raw = strings.TrimSpace(inner)
		if raw == "" {
			return nil
		}
	}

	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil
	}
	if len(vec) == 0 {
		return nil
	}
	return vec
}
