// Package store defines the record store contract consumed by the engine.
package store

import (
	"context"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/predicate"
)

// RecordStore is a typed query/patch interface over an external record store.
type RecordStore interface {
	// Query returns every row matching expr, in store order. An empty result is
	// not an error. Errors wrap domain.ErrUnavailable or domain.ErrAuth.
	Query(ctx context.Context, expr predicate.Expr) ([]domain.Row, error)

	// Patch applies a partial update to exactly one row. Errors wrap
	// domain.ErrUnavailable, domain.ErrAuth or domain.ErrNotFound.
	Patch(ctx context.Context, id string, updates map[string]domain.Value) error
}

// RowGetter is implemented by stores that can read a single row by id.
type RowGetter interface {
	Get(ctx context.Context, id string) (domain.Row, error)
}

// Closer is implemented by stores holding connections.
type Closer interface {
	Close() error
}
