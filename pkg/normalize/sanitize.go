package normalize

import "strings"

// Sanitized is a record whose values are CSV-safe strings.
type Sanitized map[string]string

var lineBreaks = strings.NewReplacer("\n", " ", "\r", " ")

// Sanitize converts every value of rec into a CSV-safe string. Strings
// lose their line breaks and have each double quote doubled; other values
// are JSON-encoded first. No key is dropped.
func Sanitize(rec Record) Sanitized {
	out := make(Sanitized, len(rec))
	for key, value := range rec {
		out[key] = SanitizeValue(value)
	}
	return out
}

// SanitizeValue converts a single value. It is total over any input.
func SanitizeValue(v any) string {
	if s, ok := v.(string); ok {
		return strings.ReplaceAll(lineBreaks.Replace(s), `"`, `""`)
	}
	return strings.ReplaceAll(compactJSON(v), `"`, `""`)
}
