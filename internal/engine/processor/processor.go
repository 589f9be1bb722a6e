// Package processor runs one batch of eligible rows through a side effect and
// marks each success on the row.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/pollmark/internal/core/claim"
	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/effect"
	"github.com/vietddude/pollmark/internal/engine/emitter"
	"github.com/vietddude/pollmark/internal/engine/extract"
	"github.com/vietddude/pollmark/internal/engine/metrics"
	"github.com/vietddude/pollmark/internal/engine/predicate"
	"github.com/vietddude/pollmark/internal/engine/recovery"
	"github.com/vietddude/pollmark/internal/infra/store"
)

// Config wires a Processor. Ledger, Emitter and Predicate are optional.
type Config struct {
	Instance        string
	CompletionField string
	Store           store.RecordStore
	Extractor       *extract.Extractor
	Provider        effect.Provider
	Predicate       predicate.Expr
	Ledger          claim.Ledger
	ClaimTTL        time.Duration
	OutcomeTTL      time.Duration
	Emitter         emitter.Emitter
	Logger          *slog.Logger
}

// Summary counts what happened to each eligible record in a batch.
type Summary struct {
	Eligible   int `json:"eligible"`
	Marked     int `json:"marked"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	MarkFailed int `json:"mark_failed"`
	Reconciled int `json:"reconciled"`
}

type result string

const (
	resultMarked     result = "marked"
	resultSkipped    result = "skipped"
	resultFailed     result = "failed"
	resultMarkFailed result = "mark_failed"
	resultReconciled result = "reconciled"
)

func (s *Summary) add(r result) {
	switch r {
	case resultMarked:
		s.Marked++
	case resultSkipped:
		s.Skipped++
	case resultFailed:
		s.Failed++
	case resultMarkFailed:
		s.MarkFailed++
	case resultReconciled:
		s.Reconciled++
	}
}

// Processor handles one instance's batches, one record at a time.
type Processor struct {
	cfg    Config
	log    *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Processor, error) {
	var errs []error
	if cfg.Instance == "" {
		errs = append(errs, errors.New("instance name is required"))
	}
	if cfg.CompletionField == "" {
		errs = append(errs, errors.New("completion field is required"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if cfg.Extractor == nil {
		errs = append(errs, errors.New("extractor is required"))
	}
	if cfg.Provider == nil {
		errs = append(errs, errors.New("provider is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: processor: %w", domain.ErrValidation, errors.Join(errs...))
	}

	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = claim.DefaultTTL
	}
	if cfg.OutcomeTTL <= 0 {
		cfg.OutcomeTTL = claim.DefaultOutcomeTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		cfg:    cfg,
		log:    logger.With("component", "processor", "instance", cfg.Instance),
		tracer: otel.Tracer("pollmark/processor"),
		now:    time.Now,
	}, nil
}

// Process handles rows sequentially in the given order. A record failure never
// stops the batch; an authorization failure does and is returned.
func (p *Processor) Process(ctx context.Context, rows []domain.Row) (Summary, error) {
	summary := Summary{Eligible: len(rows)}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if p.cfg.Predicate != nil && !p.cfg.Predicate.Matches(row) {
			p.log.Debug("Row no longer matches predicate", "record_id", row.ID)
			summary.add(resultSkipped)
			metrics.RecordsTotal.WithLabelValues(p.cfg.Instance, string(resultSkipped)).Inc()
			continue
		}

		rec := p.cfg.Extractor.Extract(row)
		res, err := p.processRecord(ctx, rec)
		summary.add(res)
		metrics.RecordsTotal.WithLabelValues(p.cfg.Instance, string(res)).Inc()

		if err != nil {
			return summary, err
		}
	}

	return summary, nil
}

func (p *Processor) processRecord(ctx context.Context, rec domain.Record) (res result, err error) {
	ctx, span := p.tracer.Start(ctx, "processor.record", trace.WithAttributes(
		attribute.String("pollmark.instance", p.cfg.Instance),
		attribute.String("pollmark.record_id", rec.ID),
		attribute.String("pollmark.provider", p.cfg.Provider.Name()),
	))
	log := p.log.With("record_id", rec.ID, "name", rec.Identity.Name)

	var claimed bool
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic while processing record", "panic", r, "stack", string(debug.Stack()))
			if claimed {
				p.release(ctx, log, rec)
			}
			res, err = resultFailed, nil
			span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", r))
		}
		span.SetAttributes(attribute.String("pollmark.result", string(res)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if missing := p.cfg.Provider.Requires().Missing(rec); len(missing) > 0 {
		log.Info("Skipping record with missing fields", "missing", missing)
		return resultSkipped, nil
	}

	if p.cfg.Ledger != nil {
		out, ok, err := p.cfg.Ledger.Outcome(ctx, p.cfg.Instance, rec.ID)
		if err != nil {
			log.Warn("Claim ledger unavailable, record left eligible", "error", err)
			return resultFailed, nil
		}
		if ok {
			log.Info("Completing mark from stored outcome")
			if res, err := p.mark(ctx, log, rec, out); res != resultMarked {
				return res, err
			}
			return resultReconciled, nil
		}

		ok, err = p.cfg.Ledger.Claim(ctx, p.cfg.Instance, rec.ID, p.cfg.ClaimTTL)
		if err != nil {
			log.Warn("Claim ledger unavailable, record left eligible", "error", err)
			return resultFailed, nil
		}
		claimed = ok
		if !claimed {
			log.Info("Record claimed by another run, skipping")
			return resultSkipped, nil
		}
	}

	start := p.now()
	out, err := p.cfg.Provider.Apply(ctx, rec)
	metrics.ProviderDuration.WithLabelValues(p.cfg.Instance, p.cfg.Provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		p.release(ctx, log, rec)

		action := recovery.Classify(err)
		log.Warn("Side effect failed", "action", action.String(), "error", err)
		if action == recovery.ActionFatal {
			return resultFailed, err
		}
		return resultFailed, nil
	}

	if p.cfg.Ledger != nil {
		if err := p.cfg.Ledger.SaveOutcome(ctx, p.cfg.Instance, rec.ID, out, p.cfg.OutcomeTTL); err != nil {
			log.Warn("Failed to store outcome", "error", err)
		}
	}

	return p.mark(ctx, log, rec, out)
}

// Mark writes out plus the completion flag to the record's row. It is the
// write-back shared by the batch loop and manual reviews.
func (p *Processor) Mark(ctx context.Context, rec domain.Record, out domain.Outcome) error {
	log := p.log.With("record_id", rec.ID, "name", rec.Identity.Name)
	res, err := p.mark(ctx, log, rec, out)
	if err != nil {
		return err
	}
	if res != resultMarked {
		return fmt.Errorf("mark %s: %s", rec.ID, res)
	}
	return nil
}

func (p *Processor) mark(ctx context.Context, log *slog.Logger, rec domain.Record, out domain.Outcome) (result, error) {
	updates := make(map[string]domain.Value, len(out.Fields)+1)
	maps.Copy(updates, out.Fields)
	updates[p.cfg.CompletionField] = domain.Checkbox(true)

	if err := p.cfg.Store.Patch(ctx, rec.ID, updates); err != nil {
		switch recovery.Classify(err) {
		case recovery.ActionFatal:
			log.Error("Mark rejected, credentials invalid", "error", err)
			return resultMarkFailed, err
		case recovery.ActionSkip:
			if errors.Is(err, domain.ErrNotFound) {
				log.Warn("Record vanished before mark", "error", err)
				p.clear(ctx, log, rec)
				return resultSkipped, nil
			}
		}
		log.Error("Failed to mark record, it stays eligible", "error", err)
		return resultMarkFailed, nil
	}

	p.clear(ctx, log, rec)
	attrs := []any{"receipt", out.Receipt}
	if out.Score != nil {
		attrs = append(attrs, "score", *out.Score)
	}
	log.Info("Record marked", attrs...)

	if p.cfg.Emitter != nil {
		if err := p.cfg.Emitter.Emit(ctx, emitter.NewEvent(p.cfg.Instance, rec, out, p.now())); err != nil {
			log.Warn("Failed to emit completion event", "error", err)
		}
	}
	return resultMarked, nil
}

func (p *Processor) release(ctx context.Context, log *slog.Logger, rec domain.Record) {
	if p.cfg.Ledger == nil {
		return
	}
	if err := p.cfg.Ledger.Release(ctx, p.cfg.Instance, rec.ID); err != nil {
		log.Warn("Failed to release claim", "error", err)
	}
}

func (p *Processor) clear(ctx context.Context, log *slog.Logger, rec domain.Record) {
	if p.cfg.Ledger == nil {
		return
	}
	if err := p.cfg.Ledger.Clear(ctx, p.cfg.Instance, rec.ID); err != nil {
		log.Warn("Failed to clear claim", "error", err)
	}
}
