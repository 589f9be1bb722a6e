// Package scheduler drives an instance's poll loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/metrics"
	"github.com/vietddude/pollmark/internal/engine/predicate"
	"github.com/vietddude/pollmark/internal/engine/processor"
	"github.com/vietddude/pollmark/internal/engine/recovery"
)

const (
	DefaultInterval        = 300 * time.Second
	DefaultMaxAuthFailures = 3

	maxTransitions = 20
)

// ErrHalted is returned by Run after repeated authorization failures.
var ErrHalted = errors.New("poller halted")

// Querier reads the rows matching a predicate.
type Querier interface {
	Query(ctx context.Context, expr predicate.Expr) ([]domain.Row, error)
}

// BatchProcessor handles one batch of rows.
type BatchProcessor interface {
	Process(ctx context.Context, rows []domain.Row) (processor.Summary, error)
}

// Config wires a Poller.
type Config struct {
	Instance        string
	Interval        time.Duration
	Predicate       predicate.Expr
	Store           Querier
	Processor       BatchProcessor
	MaxAuthFailures int
	// QueryRetry retries transient query failures within a cycle.
	QueryRetry *recovery.ExponentialBackoff
	// AuthBackoff spaces cycles after authorization failures. Delays are
	// capped at Interval.
	AuthBackoff *recovery.ExponentialBackoff
	Logger      *slog.Logger
}

// Poller runs cycles of query, process and sleep with no overlap.
type Poller struct {
	cfg     Config
	log     *slog.Logger
	running atomic.Bool

	mu          sync.RWMutex
	status      domain.PollerStatus
	transitions []Transition
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Poller, error) {
	if cfg.Instance == "" || cfg.Store == nil || cfg.Processor == nil || cfg.Predicate == nil {
		return nil, fmt.Errorf("%w: poller needs instance, store, processor and predicate", domain.ErrValidation)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAuthFailures <= 0 {
		cfg.MaxAuthFailures = DefaultMaxAuthFailures
	}
	if cfg.QueryRetry == nil {
		cfg.QueryRetry = recovery.DefaultBackoff()
	}
	if cfg.AuthBackoff == nil {
		initial := cfg.Interval / 4
		if initial < time.Second && cfg.Interval >= time.Second {
			initial = time.Second
		}
		cfg.AuthBackoff = &recovery.ExponentialBackoff{
			InitialDelay: initial,
			MaxDelay:     cfg.Interval,
			MaxAttempts:  cfg.MaxAuthFailures,
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Poller{
		cfg: cfg,
		log: logger.With("component", "scheduler", "instance", cfg.Instance),
		status: domain.PollerStatus{
			Instance: cfg.Instance,
			State:    domain.PollerStateIdle,
		},
	}
	p.publishState(domain.PollerStateIdle)
	return p, nil
}

// Run loops until ctx is cancelled (returns nil) or the poller halts
// (returns an error wrapping ErrHalted).
func (p *Poller) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("poller %s already running", p.cfg.Instance)
	}
	defer p.running.Store(false)

	p.log.Info("Poller started", "interval", p.cfg.Interval, "predicate", p.cfg.Predicate.String())

	for {
		if _, err := p.runCycle(ctx); errors.Is(err, ErrHalted) {
			return err
		}
		if ctx.Err() != nil {
			p.transition(domain.PollerStateStopped, "context cancelled")
			return nil
		}

		delay := p.nextDelay()
		p.transition(domain.PollerStateSleeping, "")
		p.log.Debug("Sleeping until next cycle", "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.transition(domain.PollerStateStopped, "context cancelled")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce runs exactly one cycle and stops the poller.
func (p *Poller) RunOnce(ctx context.Context) (processor.Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return processor.Summary{}, fmt.Errorf("poller %s already running", p.cfg.Instance)
	}
	defer p.running.Store(false)

	summary, err := p.runCycle(ctx)
	if !errors.Is(err, ErrHalted) {
		p.transition(domain.PollerStateStopped, "single cycle finished")
	}
	return summary, err
}

// runCycle runs a cycle and does the failure bookkeeping. The returned error
// wraps ErrHalted once the authorization limit is reached.
func (p *Poller) runCycle(ctx context.Context) (processor.Summary, error) {
	start := time.Now()
	summary, err := p.cycle(ctx)
	metrics.CycleDuration.WithLabelValues(p.cfg.Instance).Observe(time.Since(start).Seconds())

	if err != nil && ctx.Err() != nil {
		return summary, err
	}

	p.mu.Lock()
	p.status.Cycles++
	p.status.LastCycleAt = start
	if err == nil {
		p.status.LastError = ""
		p.status.ConsecutiveFailures = 0
		p.status.AuthFailures = 0
	} else {
		p.status.LastError = err.Error()
		p.status.ConsecutiveFailures++
		if errors.Is(err, domain.ErrAuth) {
			p.status.AuthFailures++
		}
	}
	authFailures := p.status.AuthFailures
	p.mu.Unlock()

	switch {
	case err == nil:
		metrics.CyclesTotal.WithLabelValues(p.cfg.Instance, "ok").Inc()
		p.log.Info("Cycle complete",
			"eligible", summary.Eligible,
			"marked", summary.Marked,
			"reconciled", summary.Reconciled,
			"skipped", summary.Skipped,
			"failed", summary.Failed,
			"mark_failed", summary.MarkFailed,
		)
		return summary, nil

	case errors.Is(err, domain.ErrAuth):
		metrics.CyclesTotal.WithLabelValues(p.cfg.Instance, "auth_error").Inc()
		metrics.AuthFailuresTotal.WithLabelValues(p.cfg.Instance).Inc()
		p.log.Error("Cycle aborted by authorization failure",
			"auth_failures", authFailures,
			"max_auth_failures", p.cfg.MaxAuthFailures,
			"error", err,
		)
		if authFailures >= p.cfg.MaxAuthFailures {
			p.transition(domain.PollerStateHalted, err.Error())
			return summary, fmt.Errorf("%w: %s after %d authorization failures: %w", ErrHalted, p.cfg.Instance, authFailures, err)
		}
		return summary, err

	default:
		metrics.CyclesTotal.WithLabelValues(p.cfg.Instance, "error").Inc()
		p.log.Error("Cycle failed", "error", err)
		return summary, err
	}
}

func (p *Poller) cycle(ctx context.Context) (summary processor.Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			p.log.Error("Recovered from panic in cycle", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	p.transition(domain.PollerStateQuerying, "")

	var rows []domain.Row
	err = recovery.Do(ctx, p.cfg.QueryRetry, func(ctx context.Context) error {
		var qerr error
		rows, qerr = p.cfg.Store.Query(ctx, p.cfg.Predicate)
		return qerr
	})
	if err != nil {
		return summary, fmt.Errorf("query: %w", err)
	}
	metrics.EligibleRecords.WithLabelValues(p.cfg.Instance).Set(float64(len(rows)))

	if len(rows) == 0 {
		p.log.Debug("No eligible records")
		return summary, nil
	}

	p.transition(domain.PollerStateProcessing, fmt.Sprintf("%d eligible", len(rows)))
	return p.cfg.Processor.Process(ctx, rows)
}

func (p *Poller) nextDelay() time.Duration {
	p.mu.RLock()
	auth := p.status.AuthFailures
	p.mu.RUnlock()

	if auth == 0 {
		return p.cfg.Interval
	}
	delay := p.cfg.AuthBackoff.GetDelay(auth - 1)
	if delay > p.cfg.Interval {
		delay = p.cfg.Interval
	}
	return delay
}

func (p *Poller) transition(to State, reason string) {
	p.mu.Lock()
	from := p.status.State
	if from == to {
		p.mu.Unlock()
		return
	}
	t := NewTransition(from, to, reason)
	if !t.IsValid() {
		p.mu.Unlock()
		p.log.Warn("Ignoring invalid state transition", "from", from, "to", to, "error", ErrInvalidTransition)
		return
	}
	p.status.State = to
	p.transitions = append(p.transitions, t)
	if len(p.transitions) > maxTransitions {
		p.transitions = p.transitions[len(p.transitions)-maxTransitions:]
	}
	p.mu.Unlock()

	p.publishState(to)
}

func (p *Poller) publishState(current State) {
	for _, s := range States {
		v := 0.0
		if s == current {
			v = 1
		}
		metrics.PollerState.WithLabelValues(p.cfg.Instance, string(s)).Set(v)
	}
}

// Instance returns the instance name.
func (p *Poller) Instance() string {
	return p.cfg.Instance
}

// Status returns a snapshot for health reporting.
func (p *Poller) Status() domain.PollerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Transitions returns the most recent state changes, oldest first.
func (p *Poller) Transitions() []Transition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Transition(nil), p.transitions...)
}
