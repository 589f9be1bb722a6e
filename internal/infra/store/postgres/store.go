// Package postgres implements the record store over a jsonb table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/predicate"
)

// DefaultCollection is used when no collection is configured.
const DefaultCollection = "default"

// Store reads and patches rows of one collection.
type Store struct {
	db         *DB
	collection string
}

// NewStore creates a store over an open DB.
func NewStore(db *DB, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{db: db, collection: collection}
}

type recordRow struct {
	ID         string `db:"id"`
	Properties []byte `db:"properties"`
}

func (r recordRow) toDomain() (domain.Row, error) {
	row := domain.Row{ID: r.ID, Properties: map[string]domain.Value{}}
	if len(r.Properties) == 0 {
		return row, nil
	}
	if err := json.Unmarshal(r.Properties, &row.Properties); err != nil {
		return domain.Row{}, fmt.Errorf("decode properties of %s: %w", r.ID, err)
	}
	return row, nil
}

// Query returns matching rows in insertion order.
func (s *Store) Query(ctx context.Context, expr predicate.Expr) ([]domain.Row, error) {
	b := &whereBuilder{}
	b.arg(s.collection)

	where, err := b.compile(expr)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, properties FROM pollmark_records WHERE collection = $1 AND ` + where + ` ORDER BY seq`

	var recs []recordRow
	if err := s.db.SelectContext(ctx, &recs, query, b.args...); err != nil {
		return nil, fmt.Errorf("postgres query %s: %w", s.collection, classify(err))
	}

	rows := make([]domain.Row, 0, len(recs))
	for _, r := range recs {
		row, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Patch merges updates into the row's properties.
func (s *Store) Patch(ctx context.Context, id string, updates map[string]domain.Value) error {
	data, err := json.Marshal(updates)
	if err != nil {
		return fmt.Errorf("postgres patch %s: %w", id, err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE pollmark_records SET properties = properties || $1::jsonb, updated_at = NOW() WHERE collection = $2 AND id = $3`,
		data, s.collection, id,
	)
	if err != nil {
		return fmt.Errorf("postgres patch %s: %w", id, classify(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres patch %s: %w", id, classify(err))
	}
	if n == 0 {
		return fmt.Errorf("postgres patch %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Put inserts a row or replaces its properties.
func (s *Store) Put(ctx context.Context, row domain.Row) error {
	data, err := json.Marshal(row.Properties)
	if err != nil {
		return fmt.Errorf("postgres put %s: %w", row.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pollmark_records (collection, id, properties) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id) DO UPDATE SET properties = EXCLUDED.properties, updated_at = NOW()`,
		s.collection, row.ID, data,
	)
	if err != nil {
		return fmt.Errorf("postgres put %s: %w", row.ID, classify(err))
	}
	return nil
}

// Get reads one row.
func (s *Store) Get(ctx context.Context, id string) (domain.Row, error) {
	var rec recordRow
	err := s.db.GetContext(ctx, &rec,
		`SELECT id, properties FROM pollmark_records WHERE collection = $1 AND id = $2`,
		s.collection, id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Row{}, fmt.Errorf("postgres get %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Row{}, fmt.Errorf("postgres get %s: %w", id, classify(err))
	}
	return rec.toDomain()
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
