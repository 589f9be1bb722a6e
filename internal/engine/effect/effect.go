// Package effect holds the side effects an instance runs per record.
package effect

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/vietddude/pollmark/internal/core/domain"
)

const (
	KindEvaluate = "evaluate"
	KindEmail    = "email"
	KindWhatsApp = "whatsapp"
)

// Requirement lists the record fields a provider cannot run without.
type Requirement uint8

const (
	RequireContact Requirement = 1 << iota
	RequirePayload
)

// Missing returns the names of required fields absent from rec.
func (r Requirement) Missing(rec domain.Record) []string {
	var missing []string
	if r&RequireContact != 0 && !rec.Identity.HasContact() {
		missing = append(missing, "contact")
	}
	if r&RequirePayload != 0 && strings.TrimSpace(rec.Payload) == "" {
		missing = append(missing, "payload")
	}
	return missing
}

// Provider performs the side effect for one record.
type Provider interface {
	Name() string
	Requires() Requirement
	Apply(ctx context.Context, rec domain.Record) (domain.Outcome, error)
}

// messageData is what subject, body and prompt templates can reference.
type messageData struct {
	Name      string
	FirstName string
	Link      string
	Text      string
}

func parseTemplate(name, text string) (*template.Template, error) {
	tpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s template: %w", domain.ErrValidation, name, err)
	}
	return tpl, nil
}

func render(tpl *template.Template, data messageData) (string, error) {
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("%w: render %s: %w", domain.ErrValidation, tpl.Name(), err)
	}
	return b.String(), nil
}
