// Package worker holds background maintenance loops.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper drops expired entries and reports how many were removed.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Pruner periodically sweeps expired claim ledger entries.
type Pruner struct {
	name     string
	sweeper  Sweeper
	interval time.Duration
	log      *slog.Logger
}

// NewPruner creates a pruner. The check interval is a tenth of retention,
// clamped to between one minute and one hour.
func NewPruner(name string, sweeper Sweeper, retention time.Duration) *Pruner {
	interval := min(retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	return &Pruner{
		name:     name,
		sweeper:  sweeper,
		interval: interval,
		log:      slog.Default().With("component", "pruner", "target", name),
	}
}

// Interval returns the time between sweeps.
func (p *Pruner) Interval() time.Duration {
	return p.interval
}

// Start runs the pruner loop until ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs a single sweep.
func (p *Pruner) Prune(ctx context.Context) {
	n, err := p.sweeper.Sweep(ctx)
	if err != nil {
		p.log.Error("Failed to prune", "error", err)
		return
	}
	if n > 0 {
		p.log.Debug("Pruned expired entries", "count", n)
	}
}
