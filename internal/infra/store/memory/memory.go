// Package memory is an in-process RecordStore used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/predicate"
)

// Patch is one recorded write.
type Patch struct {
	ID      string
	Updates map[string]domain.Value
}

// Store keeps rows in insertion order.
type Store struct {
	mu      sync.RWMutex
	order   []string
	rows    map[string]domain.Row
	patches []Patch
	queries int
}

func New(rows ...domain.Row) *Store {
	s := &Store{rows: make(map[string]domain.Row)}
	for _, r := range rows {
		s.Put(r)
	}
	return s
}

// Put inserts or replaces a row.
func (s *Store) Put(row domain.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[row.ID]; !ok {
		s.order = append(s.order, row.ID)
	}
	s.rows[row.ID] = domain.Row{ID: row.ID, Properties: maps.Clone(row.Properties)}
}

// Delete removes a row, simulating a row deleted between query and patch.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rows, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) Query(ctx context.Context, expr predicate.Expr) ([]domain.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++

	var out []domain.Row
	for _, id := range s.order {
		row := s.rows[id]
		if expr == nil || expr.Matches(row) {
			out = append(out, domain.Row{ID: row.ID, Properties: maps.Clone(row.Properties)})
		}
	}
	return out, nil
}

func (s *Store) Patch(ctx context.Context, id string, updates map[string]domain.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("memory patch %s: %w", id, domain.ErrNotFound)
	}
	if row.Properties == nil {
		row.Properties = make(map[string]domain.Value)
	}
	for k, v := range updates {
		row.Properties[k] = v
	}
	s.rows[id] = row
	s.patches = append(s.patches, Patch{ID: id, Updates: maps.Clone(updates)})
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return domain.Row{}, fmt.Errorf("memory get %s: %w", id, domain.ErrNotFound)
	}
	return domain.Row{ID: row.ID, Properties: maps.Clone(row.Properties)}, nil
}

// Patches returns every successful write in order.
func (s *Store) Patches() []Patch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Patch(nil), s.patches...)
}

// Queries returns how many queries were served.
func (s *Store) Queries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries
}
