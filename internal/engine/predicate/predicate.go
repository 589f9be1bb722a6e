// Package predicate expresses which rows an instance may act on. Expressions
// are evaluated server-side by the record store; Matches evaluates the same
// expression against an in-memory row.
package predicate

import (
	"fmt"
	"strings"

	"github.com/vietddude/pollmark/internal/core/domain"
)

// Kind is the property kind a condition compares against.
type Kind string

const (
	KindCheckbox Kind = "checkbox"
	KindSelect   Kind = "select"
	KindText     Kind = "text"
)

// Op is a comparison operator.
type Op string

const (
	OpEquals    Op = "equals"
	OpNotEquals Op = "not_equals"
)

// Expr is a boolean eligibility expression over row properties.
type Expr interface {
	Matches(row domain.Row) bool
	String() string
	isExpr()
}

// Condition compares one field against a constant.
type Condition struct {
	Field string
	Kind  Kind
	Op    Op
	Value domain.Value
}

// And holds when every term holds. An empty And always holds.
type And struct{ Terms []Expr }

// Or holds when at least one term holds.
type Or struct{ Terms []Expr }

// Not inverts a term.
type Not struct{ Term Expr }

func (Condition) isExpr() {}
func (And) isExpr()       {}
func (Or) isExpr()        {}
func (Not) isExpr()       {}

// Checkbox builds a boolean-equality condition.
func Checkbox(field string, checked bool) Condition {
	return Condition{Field: field, Kind: KindCheckbox, Op: OpEquals, Value: domain.Checkbox(checked)}
}

// Select builds a single-select equality condition.
func Select(field, option string) Condition {
	return Condition{Field: field, Kind: KindSelect, Op: OpEquals, Value: domain.Select(option)}
}

// Text builds a text equality condition.
func Text(field, text string) Condition {
	return Condition{Field: field, Kind: KindText, Op: OpEquals, Value: domain.RichText(text)}
}

// All conjoins terms, flattening nested conjunctions.
func All(terms ...Expr) And {
	var flat []Expr
	for _, t := range terms {
		if t == nil {
			continue
		}
		if a, ok := t.(And); ok {
			flat = append(flat, a.Terms...)
			continue
		}
		flat = append(flat, t)
	}
	return And{Terms: flat}
}

// Any disjoins terms.
func Any(terms ...Expr) Or {
	return Or{Terms: terms}
}

// Negate inverts a term.
func Negate(term Expr) Not {
	return Not{Term: term}
}

// Validate checks the condition is well formed.
func (c Condition) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("condition without field: %w", domain.ErrValidation)
	}
	switch c.Kind {
	case KindCheckbox, KindSelect, KindText:
	default:
		return fmt.Errorf("field %q: unknown kind %q: %w", c.Field, c.Kind, domain.ErrValidation)
	}
	switch c.Op {
	case OpEquals, OpNotEquals:
	default:
		return fmt.Errorf("field %q: unknown operator %q: %w", c.Field, c.Op, domain.ErrValidation)
	}
	return nil
}

func (c Condition) Matches(row domain.Row) bool {
	v, _ := row.Get(c.Field)

	var equal bool
	switch c.Kind {
	case KindCheckbox:
		// A missing checkbox reads as unchecked.
		equal = v.Bool == c.Value.Bool
	default:
		equal = v.Text == c.Value.Text
	}

	if c.Op == OpNotEquals {
		return !equal
	}
	return equal
}

func (c Condition) String() string {
	op := "="
	if c.Op == OpNotEquals {
		op = "!="
	}
	return fmt.Sprintf("%q %s %s", c.Field, op, c.Value.String())
}

func (a And) Matches(row domain.Row) bool {
	for _, t := range a.Terms {
		if !t.Matches(row) {
			return false
		}
	}
	return true
}

func (a And) String() string { return join(a.Terms, " AND ") }

func (o Or) Matches(row domain.Row) bool {
	for _, t := range o.Terms {
		if t.Matches(row) {
			return true
		}
	}
	return false
}

func (o Or) String() string { return join(o.Terms, " OR ") }

func (n Not) Matches(row domain.Row) bool { return !n.Term.Matches(row) }

func (n Not) String() string { return "NOT " + n.Term.String() }

func join(terms []Expr, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Conditions returns the leaf conditions of an expression in order.
func Conditions(e Expr) []Condition {
	switch x := e.(type) {
	case Condition:
		return []Condition{x}
	case And:
		return flatten(x.Terms)
	case Or:
		return flatten(x.Terms)
	case Not:
		return Conditions(x.Term)
	default:
		return nil
	}
}

func flatten(terms []Expr) []Condition {
	var out []Condition
	for _, t := range terms {
		out = append(out, Conditions(t)...)
	}
	return out
}
