// Package extract maps raw store rows onto records.
package extract

import (
	"strings"

	"github.com/vietddude/pollmark/internal/core/domain"
)

// DefaultNameFallback is used when no fallback is configured.
const DefaultNameFallback = "Unknown"

// Fields names the row properties an instance reads.
type Fields struct {
	Name    string `yaml:"name"`
	Contact string `yaml:"contact"`
	Payload string `yaml:"payload"`
}

// Extractor turns rows into records. Extraction never fails: absent optional
// fields produce empty record fields and the processor decides what to skip.
type Extractor struct {
	fields       Fields
	contactKind  domain.ContactKind
	nameFallback string
}

// New creates an extractor for the given property names.
func New(fields Fields, contactKind domain.ContactKind, nameFallback string) *Extractor {
	if nameFallback == "" {
		nameFallback = DefaultNameFallback
	}
	return &Extractor{
		fields:       fields,
		contactKind:  contactKind,
		nameFallback: nameFallback,
	}
}

// Extract maps one row.
func (e *Extractor) Extract(row domain.Row) domain.Record {
	rec := domain.Record{
		ID: row.ID,
		Identity: domain.Identity{
			Name: e.nameFallback,
		},
	}

	if v, ok := row.Get(e.fields.Name); ok && !v.IsEmpty() {
		rec.Identity.Name = strings.TrimSpace(v.Text)
	}

	if e.fields.Contact != "" {
		if v, ok := row.Get(e.fields.Contact); ok && !v.IsEmpty() {
			rec.Identity.Contact = strings.TrimSpace(v.Text)
			rec.Identity.ContactKind = e.contactKind
		}
	}

	if e.fields.Payload != "" {
		if v, ok := row.Get(e.fields.Payload); ok && !v.IsEmpty() {
			rec.Payload = strings.TrimSpace(v.Text)
		}
	}

	return rec
}

// ExtractAll maps rows preserving order.
func (e *Extractor) ExtractAll(rows []domain.Row) []domain.Record {
	out := make([]domain.Record, len(rows))
	for i, r := range rows {
		out[i] = e.Extract(r)
	}
	return out
}

// FirstName returns the first whitespace-separated word of name, or name
// itself when it has none.
func FirstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return name
}
