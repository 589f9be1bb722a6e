package emitter

import (
	"context"
	"log/slog"
)

// LogEmitter writes events to the structured log.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger.With("component", "emitter")}
}

func (e *LogEmitter) Emit(ctx context.Context, event CompletionEvent) error {
	attrs := []any{
		"event_id", event.ID,
		"instance", event.Instance,
		"record_id", event.RecordID,
		"name", event.Name,
	}
	if event.Score != nil {
		attrs = append(attrs, "score", *event.Score)
	}
	if event.Receipt != "" {
		attrs = append(attrs, "receipt", event.Receipt)
	}
	e.logger.InfoContext(ctx, "Record completed", attrs...)
	return nil
}

func (e *LogEmitter) Close() error { return nil }
