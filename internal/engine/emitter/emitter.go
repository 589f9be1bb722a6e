// Package emitter publishes completion events after a record is marked.
package emitter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/pollmark/internal/core/domain"
)

// CompletionEvent announces that a record reached its completion state.
type CompletionEvent struct {
	ID       string    `json:"id"`
	Instance string    `json:"instance"`
	RecordID string    `json:"record_id"`
	Name     string    `json:"name"`
	Score    *int      `json:"score,omitempty"`
	Receipt  string    `json:"receipt,omitempty"`
	MarkedAt time.Time `json:"marked_at"`
}

// NewEvent builds the event for a marked record.
func NewEvent(instance string, rec domain.Record, out domain.Outcome, at time.Time) CompletionEvent {
	return CompletionEvent{
		ID:       uuid.NewString(),
		Instance: instance,
		RecordID: rec.ID,
		Name:     rec.Identity.Name,
		Score:    out.Score,
		Receipt:  out.Receipt,
		MarkedAt: at.UTC(),
	}
}

// Emitter defines the interface for emitting completion events
type Emitter interface {
	// Emit sends a single event
	Emit(ctx context.Context, event CompletionEvent) error

	// Close closes the emitter connection
	Close() error
}
