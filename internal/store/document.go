package store

import (
	"encoding/json"
	"strings"
)

func (d Document) String(key string) string {
	if d == nil {
		return ""
	}
	value, ok := d[key]
	if !ok {
		return ""
	}
	if typed, ok := value.(string); ok {
		return strings.TrimSpace(typed)
	}
	return ""
}

func (d Document) Float(key string) float64 {
	if d == nil {
		return 0
	}
	switch typed := d[key].(type) {
	case float64:
		return typed
	case float32:
		return float64(typed)
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case json.Number:
		parsed, err := typed.Float64()
		if err == nil {
			return parsed
		}
	}
	return 0
}

func (d Document) Has(key string) bool {
	if d == nil {
		return false
	}
	value, ok := d[key]
	return ok && value != nil
}

// Strings reads an ordered list of strings, keeping order and dropping blanks
// and non-string items.
func (d Document) Strings(key string) []string {
	if d == nil {
		return nil
	}
	var raw []any
	switch typed := d[key].(type) {
	case []any:
		raw = typed
	case []string:
		raw = make([]any, 0, len(typed))
		for _, item := range typed {
			raw = append(raw, item)
		}
	default:
		return nil
	}
	results := make([]string, 0, len(raw))
	for _, item := range raw {
		text, ok := item.(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		results = append(results, trimmed)
	}
	if len(results) == 0 {
		return nil
	}
	return results
}
