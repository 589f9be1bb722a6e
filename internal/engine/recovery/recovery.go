// Package recovery decides what to do with a failed call and how long to wait
// before trying again.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vietddude/pollmark/internal/core/domain"
)

// Action is the handling decided for an error.
type Action int

const (
	// ActionRetry leaves the record eligible for the next attempt.
	ActionRetry Action = iota
	// ActionSkip gives up on the record for this cycle.
	ActionSkip
	// ActionFatal stops the batch and escalates.
	ActionFatal
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionSkip:
		return "skip"
	case ActionFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify determines the action for a given error. Unknown errors are
// treated as transient.
func Classify(err error) Action {
	switch {
	case err == nil:
		return ActionRetry
	case errors.Is(err, domain.ErrAuth):
		return ActionFatal
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrRejected),
		errors.Is(err, domain.ErrUnsupported):
		return ActionSkip
	default:
		return ActionRetry
	}
}

// ExponentialBackoff implements a standard backoff strategy.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultBackoff returns 1s, 2s, 4s (max 30s) over three attempts.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  3,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if error is transient and max attempts not exceeded.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxAttempts-1 {
		return false
	}
	return Classify(err) == ActionRetry
}

// Do runs fn until it succeeds, returns a non-transient error or the attempts
// run out.
func Do(ctx context.Context, s *ExponentialBackoff, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !s.ShouldRetry(lastErr, attempt) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.GetDelay(attempt)):
		}
	}

	if Classify(lastErr) != ActionRetry {
		return lastErr
	}
	return fmt.Errorf("failed after %d attempts: %w", s.MaxAttempts, lastErr)
}
