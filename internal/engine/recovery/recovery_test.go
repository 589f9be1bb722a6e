package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/pollmark/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Action
	}{
		{fmt.Errorf("notion query: %w", domain.ErrAuth), ActionFatal},
		{fmt.Errorf("parse: %w", domain.ErrValidation), ActionSkip},
		{fmt.Errorf("patch: %w", domain.ErrNotFound), ActionSkip},
		{fmt.Errorf("send: %w", domain.ErrRejected), ActionSkip},
		{fmt.Errorf("doc: %w", domain.ErrUnsupported), ActionSkip},
		{fmt.Errorf("query: %w", domain.ErrUnavailable), ActionRetry},
		{errors.New("connection reset by peer"), ActionRetry},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestBackoff_Delay(t *testing.T) {
	strategy := DefaultBackoff()
	strategy.InitialDelay = 1 * time.Second
	strategy.MaxDelay = 10 * time.Second

	// Attempt 0: 1*2^0 = 1s
	if d := strategy.GetDelay(0); d != 1*time.Second {
		t.Errorf("expected 1s, got %v", d)
	}

	// Attempt 2: 1*2^2 = 4s
	if d := strategy.GetDelay(2); d != 4*time.Second {
		t.Errorf("expected 4s, got %v", d)
	}

	// Attempt 10: Cap at MaxDelay (10s)
	if d := strategy.GetDelay(10); d != 10*time.Second {
		t.Errorf("expected 10s, got %v", d)
	}
}

func TestBackoff_ShouldRetry(t *testing.T) {
	strategy := DefaultBackoff()
	strategy.MaxAttempts = 3

	if !strategy.ShouldRetry(domain.ErrUnavailable, 0) {
		t.Error("should retry attempt 0")
	}
	if strategy.ShouldRetry(domain.ErrUnavailable, 2) {
		t.Error("should NOT retry after the last attempt")
	}
	if strategy.ShouldRetry(domain.ErrAuth, 0) {
		t.Error("should NOT retry auth failures")
	}
}

func fastBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3}
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers from transient error", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastBackoff(), func(ctx context.Context) error {
			calls++
			if calls < 2 {
				return domain.ErrUnavailable
			}
			return nil
		})
		if err != nil || calls != 2 {
			t.Fatalf("expected success on 2nd call, got err=%v calls=%d", err, calls)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastBackoff(), func(ctx context.Context) error {
			calls++
			return domain.ErrUnavailable
		})
		if !errors.Is(err, domain.ErrUnavailable) || calls != 3 {
			t.Fatalf("expected 3 calls and unavailable error, got err=%v calls=%d", err, calls)
		}
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastBackoff(), func(ctx context.Context) error {
			calls++
			return domain.ErrNotFound
		})
		if !errors.Is(err, domain.ErrNotFound) || calls != 1 {
			t.Fatalf("expected 1 call, got err=%v calls=%d", err, calls)
		}
	})

	t.Run("honours cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		s := &ExponentialBackoff{InitialDelay: time.Hour, MaxDelay: time.Hour, MaxAttempts: 3}
		err := Do(cctx, s, func(ctx context.Context) error { return domain.ErrUnavailable })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
