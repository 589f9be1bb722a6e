// Package claim tracks records whose side effect is in flight or done but not
// yet marked in the store. A claim is taken before the side effect runs; the
// outcome is saved once it succeeds and cleared once the mark is persisted.
package claim

import (
	"context"
	"time"

	"github.com/vietddude/pollmark/internal/core/domain"
)

const (
	DefaultTTL        = 15 * time.Minute
	DefaultOutcomeTTL = 7 * 24 * time.Hour
)

// Ledger is the claim store shared by pollers.
type Ledger interface {
	// Claim takes the record for ttl. It returns false when a live claim exists.
	Claim(ctx context.Context, instance, id string, ttl time.Duration) (bool, error)
	// Release drops a claim without an outcome so the record is retried.
	Release(ctx context.Context, instance, id string) error
	// SaveOutcome stores a successful outcome awaiting its mark.
	SaveOutcome(ctx context.Context, instance, id string, outcome domain.Outcome, ttl time.Duration) error
	// Outcome returns the stored outcome for the record, if any.
	Outcome(ctx context.Context, instance, id string) (domain.Outcome, bool, error)
	// Clear removes both claim and outcome once the mark is persisted.
	Clear(ctx context.Context, instance, id string) error
	// Pending lists record ids with a live claim or a stored outcome.
	Pending(ctx context.Context, instance string) ([]string, error)
}
