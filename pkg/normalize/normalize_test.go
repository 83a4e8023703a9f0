package normalize

import (
	"bytes"
	"encoding/json"
	"testing"
)

// decode parses a payload the way the client does.
func decode(t *testing.T, payload string) map[string]any {
	t.Helper()

	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return raw
}

func TestNormalize_FlattensNestedMaps(t *testing.T) {
	raw := decode(t, `{
		"id": 42,
		"name": "Ada Lovelace",
		"photo": {"url": "https://x/p.jpg", "size": 3},
		"source": {"meta": {"a": 1}}
	}`)

	rec := Normalize(raw)

	want := map[string]any{
		"id":          json.Number("42"),
		"name":        "Ada Lovelace",
		"photo_url":   "https://x/p.jpg",
		"photo_size":  json.Number("3"),
		"source_meta": `{"a":1}`,
	}
	for key, value := range want {
		if rec[key] != value {
			t.Errorf("rec[%q] = %#v, want %#v", key, rec[key], value)
		}
	}
	if _, ok := rec["photo"]; ok {
		t.Error("flattened parent key 'photo' should not be present")
	}
}

func TestNormalize_Placements(t *testing.T) {
	raw := decode(t, `{
		"id": 1,
		"placements": [
			{"stage": "applied", "offer_id": 10, "tags": ["x"],
			 "locations": [{"city": "Berlin", "country_code": "DE"}, {"city": "Paris"}]},
			{"stage": "hired"}
		]
	}`)

	rec := Normalize(raw)

	if rec["stage"] != "hired" {
		t.Errorf("stage = %#v, want last placement to win", rec["stage"])
	}
	if rec["offer_id"] != json.Number("10") {
		t.Errorf("offer_id = %#v, want 10", rec["offer_id"])
	}
	if rec["location_city"] != "Berlin" {
		t.Errorf("location_city = %#v, want first location", rec["location_city"])
	}
	if rec["location_country_code"] != "DE" {
		t.Errorf("location_country_code = %#v, want DE", rec["location_country_code"])
	}
	if _, ok := rec["tags"]; ok {
		t.Error("non-scalar placement field 'tags' should not be merged")
	}
	if _, ok := rec["placements"]; ok {
		t.Error("'placements' should be removed from the output")
	}
	if rec["id"] != json.Number("1") {
		t.Errorf("id = %#v, want candidate id", rec["id"])
	}
}

func TestNormalize_LocationKeysForEveryLocationField(t *testing.T) {
	locations := []map[string]any{
		{"city": "Oslo"},
		{"city": "Lyon", "zip": "69001", "remote": false, "geo": map[string]any{"lat": 1.5}},
		{},
	}

	for _, loc := range locations {
		raw := map[string]any{
			"placements": []any{map[string]any{"locations": []any{loc}}},
		}

		rec := Normalize(raw)
		for key := range loc {
			if _, ok := rec[LocationPrefix+key]; !ok {
				t.Errorf("missing %q for location %v", LocationPrefix+key, loc)
			}
		}
	}
}

func TestNormalize_TopLevelWinsOverPlacement(t *testing.T) {
	raw := decode(t, `{"id": 7, "placements": [{"id": 99, "stage": "new"}]}`)

	rec := Normalize(raw)
	if rec["id"] != json.Number("7") {
		t.Errorf("id = %#v, want candidate id 7", rec["id"])
	}
	if rec["stage"] != "new" {
		t.Errorf("stage = %#v, want new", rec["stage"])
	}
}

func TestNormalize_Defaults(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    map[string]any
	}{
		{
			name:    "empty payload",
			payload: `{}`,
			want:    map[string]any{"email": "", "phone": "", "socials": "{}"},
		},
		{
			name:    "present values kept",
			payload: `{"email": "a@b.c", "phone": "+1", "socials": "{\"x\":1}"}`,
			want:    map[string]any{"email": "a@b.c", "phone": "+1", "socials": `{"x":1}`},
		},
		{
			name:    "null placements",
			payload: `{"placements": null}`,
			want:    map[string]any{"email": "", "phone": "", "socials": "{}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Normalize(decode(t, tt.payload))
			for key, value := range tt.want {
				if rec[key] != value {
					t.Errorf("rec[%q] = %#v, want %#v", key, rec[key], value)
				}
			}
		})
	}
}

func TestNormalize_NilPayload(t *testing.T) {
	rec := Normalize(nil)
	if len(rec) != len(defaults) {
		t.Errorf("len(rec) = %d, want %d default keys", len(rec), len(defaults))
	}
}

func TestNormalize_NoNestedContainers(t *testing.T) {
	raw := decode(t, `{
		"emails": ["a@x", "b@x"],
		"fields": [{"kind": "text", "values": [1, 2]}],
		"photo": {"variants": {"small": "s", "big": "b"}, "list": [1]},
		"html": "<b>&</b>",
		"placements": [{"locations": [{"geo": {"lat": 1}}], "meta": {"a": 1}}]
	}`)

	rec := Normalize(raw)
	for key, value := range rec {
		if !isScalar(value) {
			t.Errorf("rec[%q] = %#v is not a primitive", key, value)
		}
	}

	if rec["emails"] != `["a@x","b@x"]` {
		t.Errorf("emails = %#v, want compact JSON", rec["emails"])
	}
	if rec["photo_variants"] != `{"big":"b","small":"s"}` {
		t.Errorf("photo_variants = %#v, want compact JSON", rec["photo_variants"])
	}
	if rec["location_geo"] != `{"lat":1}` {
		t.Errorf("location_geo = %#v, want compact JSON", rec["location_geo"])
	}
	if rec["html"] != "<b>&</b>" {
		t.Errorf("html = %#v, want unescaped string", rec["html"])
	}
}

func TestRecord_StringAndKeys(t *testing.T) {
	rec := Record{"b": "x", "a": json.Number("1"), "c": nil}

	if rec.String("b") != "x" {
		t.Errorf("String(b) = %q, want x", rec.String("b"))
	}
	if rec.String("a") != "" || rec.String("missing") != "" {
		t.Error("String() should be empty for non-string or missing values")
	}

	keys := rec.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("Keys() = %v, want [a b c]", keys)
	}
}
