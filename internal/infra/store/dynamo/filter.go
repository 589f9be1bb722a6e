package dynamo

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/predicate"
)

// exprBuilder renders expressions as a FilterExpression with placeholder
// names and values.
type exprBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
}

func (b *exprBuilder) name(field string) string {
	for k, v := range b.names {
		if v == field {
			return k
		}
	}
	key := fmt.Sprintf("#n%d", len(b.names))
	b.names[key] = field
	return key
}

func (b *exprBuilder) value(av types.AttributeValue) string {
	key := fmt.Sprintf(":v%d", len(b.values))
	b.values[key] = av
	return key
}

// compile returns "" for an expression that places no constraint.
func (b *exprBuilder) compile(expr predicate.Expr) (string, error) {
	if expr == nil {
		return "", nil
	}

	switch e := expr.(type) {
	case predicate.Condition:
		return b.condition(e)
	case predicate.And:
		return b.group(e.Terms, " AND ")
	case predicate.Or:
		if len(e.Terms) == 0 {
			return "", fmt.Errorf("dynamo filter: empty disjunction: %w", domain.ErrUnsupported)
		}
		return b.group(e.Terms, " OR ")
	case predicate.Not:
		inner, err := b.compile(e.Term)
		if err != nil || inner == "" {
			return inner, err
		}
		return "NOT (" + inner + ")", nil
	default:
		return "", fmt.Errorf("dynamo filter: unsupported expression %T: %w", expr, domain.ErrUnsupported)
	}
}

func (b *exprBuilder) group(terms []predicate.Expr, sep string) (string, error) {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		p, err := b.compile(t)
		if err != nil {
			return "", err
		}
		if p != "" {
			parts = append(parts, p)
		}
	}
	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *exprBuilder) condition(c predicate.Condition) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	n := b.name(c.Field)

	if c.Kind == predicate.KindCheckbox {
		// A missing attribute reads as unchecked.
		want := c.Value.Bool != (c.Op == predicate.OpNotEquals)
		v := b.value(&types.AttributeValueMemberBOOL{Value: want})
		if want {
			return fmt.Sprintf("%s = %s", n, v), nil
		}
		return fmt.Sprintf("(attribute_not_exists(%s) OR %s = %s)", n, n, v), nil
	}

	v := b.value(&types.AttributeValueMemberS{Value: c.Value.Text})
	if c.Op == predicate.OpNotEquals {
		return fmt.Sprintf("(attribute_not_exists(%s) OR %s <> %s)", n, n, v), nil
	}
	return fmt.Sprintf("%s = %s", n, v), nil
}
