package notion

import (
	"fmt"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/predicate"
)

// compileFilter renders an expression as a database query filter. Notion has
// no NOT operator, so negations are pushed down onto the leaf conditions.
// A nil filter means "match everything".
func compileFilter(expr predicate.Expr) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}

	switch e := expr.(type) {
	case predicate.Condition:
		return compileCondition(e)
	case predicate.And:
		return compileGroup("and", e.Terms)
	case predicate.Or:
		return compileGroup("or", e.Terms)
	case predicate.Not:
		return compileFilter(negate(e.Term))
	default:
		return nil, fmt.Errorf("notion filter: unsupported expression %T: %w", expr, domain.ErrUnsupported)
	}
}

func compileGroup(op string, terms []predicate.Expr) (map[string]any, error) {
	switch len(terms) {
	case 0:
		return nil, nil
	case 1:
		return compileFilter(terms[0])
	}

	parts := make([]any, 0, len(terms))
	for _, t := range terms {
		f, err := compileFilter(t)
		if err != nil {
			return nil, err
		}
		if f != nil {
			parts = append(parts, f)
		}
	}
	return map[string]any{op: parts}, nil
}

func compileCondition(c predicate.Condition) (map[string]any, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	op := "equals"
	if c.Op == predicate.OpNotEquals {
		op = "does_not_equal"
	}

	var (
		key   string
		value any
	)
	switch c.Kind {
	case predicate.KindCheckbox:
		key, value = "checkbox", c.Value.Bool
	case predicate.KindSelect:
		key, value = "select", c.Value.Text
	default:
		key, value = "rich_text", c.Value.Text
	}

	return map[string]any{
		"property": c.Field,
		key:        map[string]any{op: value},
	}, nil
}

func negate(expr predicate.Expr) predicate.Expr {
	switch e := expr.(type) {
	case predicate.Condition:
		if e.Op == predicate.OpNotEquals {
			e.Op = predicate.OpEquals
		} else {
			e.Op = predicate.OpNotEquals
		}
		return e
	case predicate.And:
		terms := make([]predicate.Expr, len(e.Terms))
		for i, t := range e.Terms {
			terms[i] = negate(t)
		}
		return predicate.Any(terms...)
	case predicate.Or:
		terms := make([]predicate.Expr, len(e.Terms))
		for i, t := range e.Terms {
			terms[i] = negate(t)
		}
		return predicate.All(terms...)
	case predicate.Not:
		return e.Term
	default:
		return expr
	}
}
