package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/pollmark/internal/core/domain"
)

// classify wraps a driver error with the matching domain sentinel. SQLSTATE
// class 28 is an authorization failure; everything else is treated as the
// store being unavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var code string
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Code
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	}

	switch {
	case strings.HasPrefix(code, "28"), code == "42501":
		return fmt.Errorf("%w: %w", domain.ErrAuth, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
}
