package assets

import (
	"strings"
	"unicode"

	"github.com/Sternrassler/recruitee-exporter/pkg/normalize"
)

// Kind identifies an attachment type.
type Kind string

const (
	// KindDocument is the candidate's CV.
	KindDocument Kind = "document"

	// KindImage is the candidate's photo.
	KindImage Kind = "image"
)

// DisplayNameField holds the candidate's display name in a record.
const DisplayNameField = normalize.DisplayNameField

// Ref is an attachment reference derived from a record.
type Ref struct {
	Name string
	URL  string
	Kind Kind
}

// attachment describes how one kind is found and stored.
type attachment struct {
	kind Kind

	// fields are checked in order; the first non-empty string wins.
	fields []string

	// suffix is appended to the safe display name.
	suffix string

	// mediaType, when set, must match the response Content-Type.
	mediaType string
}

// The document path validates the declared content type; the image path
// accepts any 200 response.
var attachments = []attachment{
	{
		kind:      KindDocument,
		fields:    []string{"cv_url"},
		suffix:    "_resume.pdf",
		mediaType: "application/pdf",
	},
	{
		kind:   KindImage,
		fields: []string{"photo_url", "photo_normal_url", "photo_thumb_url"},
		suffix: "_photo.jpg",
	},
}

// Refs returns one Ref per attachment kind. URL is empty when the record
// has no link for that kind.
func Refs(rec normalize.Record) []Ref {
	name := rec.String(DisplayNameField)
	refs := make([]Ref, 0, len(attachments))
	for _, a := range attachments {
		refs = append(refs, Ref{Name: name, URL: a.url(rec), Kind: a.kind})
	}
	return refs
}

func (a attachment) url(rec normalize.Record) string {
	for _, field := range a.fields {
		if u := strings.TrimSpace(rec.String(field)); u != "" {
			return u
		}
	}
	return ""
}

// FileName returns the artifact name for a display name and kind.
func FileName(displayName string, kind Kind) string {
	for _, a := range attachments {
		if a.kind == kind {
			return SafeName(displayName) + a.suffix
		}
	}
	return SafeName(displayName)
}

// SafeName keeps letters, digits, spaces, '.' and '_' of a display name and
// trims trailing whitespace. Distinct names may map to the same safe name;
// the later download then overwrites the earlier file.
func SafeName(displayName string) string {
	var b strings.Builder
	b.Grow(len(displayName))
	for _, r := range displayName {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '.' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace)
}
