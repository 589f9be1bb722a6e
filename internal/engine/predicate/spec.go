package predicate

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/vietddude/pollmark/internal/core/domain"
)

// Spec is the configuration form of an expression. A spec with Any set is a
// disjunction, one with Not set is a negation, otherwise it is a condition.
type Spec struct {
	Field string `yaml:"field"`
	Kind  Kind   `yaml:"kind"`
	Op    Op     `yaml:"op"`
	Value string `yaml:"value"`
	Any   []Spec `yaml:"any"`
	Not   *Spec  `yaml:"not"`
}

// Build conjoins the given specs into one expression.
func Build(specs []Spec) (And, error) {
	var (
		terms []Expr
		errs  []error
	)
	for i, s := range specs {
		e, err := s.Expr()
		if err != nil {
			errs = append(errs, fmt.Errorf("predicate[%d]: %w", i, err))
			continue
		}
		terms = append(terms, e)
	}
	if len(errs) > 0 {
		return And{}, errors.Join(errs...)
	}
	return All(terms...), nil
}

// Expr converts the spec into an expression.
func (s Spec) Expr() (Expr, error) {
	switch {
	case s.Not != nil:
		inner, err := s.Not.Expr()
		if err != nil {
			return nil, err
		}
		return Negate(inner), nil
	case len(s.Any) > 0:
		terms := make([]Expr, 0, len(s.Any))
		for _, sub := range s.Any {
			e, err := sub.Expr()
			if err != nil {
				return nil, err
			}
			terms = append(terms, e)
		}
		return Any(terms...), nil
	}

	op := s.Op
	if op == "" {
		op = OpEquals
	}
	c := Condition{Field: s.Field, Kind: s.Kind, Op: op}
	switch s.Kind {
	case KindCheckbox:
		b, err := strconv.ParseBool(s.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: checkbox value %q: %w", s.Field, s.Value, domain.ErrValidation)
		}
		c.Value = domain.Checkbox(b)
	case KindSelect:
		c.Value = domain.Select(s.Value)
	default:
		c.Value = domain.RichText(s.Value)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
