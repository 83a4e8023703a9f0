// Package normalize flattens nested candidate payloads into flat records
// and converts those records into CSV-safe strings.
//
// Normalize turns one raw detail object into a Record whose values are all
// scalars (string, json.Number, float64, bool or nil) or compact JSON
// strings. Sanitize turns a Record into a Sanitized mapping of plain
// strings ready for the tabular export.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Record is a flat mapping from column name to scalar value.
type Record map[string]any

// String returns the value under key, or "" when it is absent or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Keys returns the record's keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Rule flattens the value of one special-cased top-level field into out.
// value is nil when the field is absent from the payload.
type Rule func(value any, out Record)

// rules holds the special-cased top-level fields. Fields named here are
// removed from the payload before generic flattening and handed to their
// rule instead.
var rules = map[string]Rule{
	"placements": flattenPlacements,
}

// DisplayNameField holds the candidate's display name in a record.
const DisplayNameField = "name"

// LocationPrefix prefixes the fields of a placement's first location.
const LocationPrefix = "location_"

// defaults are guaranteed to be present after normalization so every run
// carries the same contact columns.
var defaults = map[string]any{
	"email":   "",
	"phone":   "",
	"socials": "{}",
}

// Normalize flattens a raw candidate payload. It never fails: absent
// optional fields become empty defaults and values that cannot be
// flattened are stored as compact JSON strings.
//
// Special-cased fields are applied first and ordinary top-level fields
// afterwards, so on a key collision the candidate's own field wins over a
// value merged in from a placement.
func Normalize(raw map[string]any) Record {
	out := make(Record, len(raw)+len(defaults))

	for _, name := range ruleNames() {
		rules[name](raw[name], out)
	}

	for key, value := range raw {
		if _, special := rules[key]; special {
			continue
		}

		nested, ok := value.(map[string]any)
		if !ok {
			out[key] = scalar(value)
			continue
		}
		for sub, v := range nested {
			out[key+"_"+sub] = scalar(v)
		}
	}

	for key, value := range defaults {
		if _, ok := out[key]; !ok {
			out[key] = value
		}
	}

	return out
}

// flattenPlacements merges the scalar fields of every placement into out,
// later placements overwriting earlier ones. The first entry of a
// placement's locations list contributes its fields prefixed with
// LocationPrefix.
func flattenPlacements(value any, out Record) {
	placements, _ := value.([]any)

	for _, element := range placements {
		placement, ok := element.(map[string]any)
		if !ok {
			continue
		}

		for key, v := range placement {
			if key == "locations" {
				mergeFirstLocation(v, out)
				continue
			}
			if isScalar(v) {
				out[key] = v
			}
		}
	}
}

func mergeFirstLocation(value any, out Record) {
	locations, ok := value.([]any)
	if !ok || len(locations) == 0 {
		return
	}
	location, ok := locations[0].(map[string]any)
	if !ok {
		return
	}
	for key, v := range location {
		out[LocationPrefix+key] = scalar(v)
	}
}

// scalar returns v unchanged when it is a primitive, or its compact JSON
// encoding when it is a list or object.
func scalar(v any) any {
	if isScalar(v) {
		return v
	}
	return compactJSON(v)
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, json.Number, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

// compactJSON encodes v without insignificant whitespace and without HTML
// escaping. Values json cannot encode fall back to fmt formatting.
func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func ruleNames() []string {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
