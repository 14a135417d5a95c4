package repositories

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// StringifyMetadata flattens a decoded JSON object into string values.
// Ingestion tools commonly store page numbers as JSON numbers; those are
// rendered without a trailing fraction. Null values are dropped.
func StringifyMetadata(meta map[string]any) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			continue
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// DecodeMetadata parses a JSON metadata column. Empty input yields nil.
func DecodeMetadata(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return StringifyMetadata(meta), nil
}
