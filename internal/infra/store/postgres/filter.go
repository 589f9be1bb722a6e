package postgres

import (
	"fmt"
	"strings"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/predicate"
)

// whereBuilder renders expressions as SQL over the jsonb properties column.
// Properties are stored as {"<name>": {"type": ..., "text": ..., "bool": ...}}.
type whereBuilder struct {
	args []any
}

func (b *whereBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *whereBuilder) compile(expr predicate.Expr) (string, error) {
	if expr == nil {
		return "TRUE", nil
	}

	switch e := expr.(type) {
	case predicate.Condition:
		return b.condition(e)
	case predicate.And:
		return b.group(e.Terms, " AND ", "TRUE")
	case predicate.Or:
		return b.group(e.Terms, " OR ", "FALSE")
	case predicate.Not:
		inner, err := b.compile(e.Term)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	default:
		return "", fmt.Errorf("postgres filter: unsupported expression %T: %w", expr, domain.ErrUnsupported)
	}
}

func (b *whereBuilder) group(terms []predicate.Expr, sep, empty string) (string, error) {
	if len(terms) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		p, err := b.compile(t)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *whereBuilder) condition(c predicate.Condition) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	op := "="
	if c.Op == predicate.OpNotEquals {
		op = "<>"
	}

	field := b.arg(c.Field)
	if c.Kind == predicate.KindCheckbox {
		return fmt.Sprintf("COALESCE((properties -> %s ->> 'bool')::boolean, false) %s %s", field, op, b.arg(c.Value.Bool)), nil
	}
	return fmt.Sprintf("COALESCE(properties -> %s ->> 'text', '') %s %s", field, op, b.arg(c.Value.Text)), nil
}
