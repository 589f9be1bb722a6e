package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/vietddude/pollmark/internal/core/domain"
)

const defaultWriteTimeout = 3 * time.Second

// KafkaConfig configures the Kafka emitter.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter publishes events as JSON keyed by record id.
type KafkaEmitter struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewKafkaEmitter creates a producer for cfg.Topic.
func NewKafkaEmitter(cfg KafkaConfig) (*KafkaEmitter, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka brokers and topic are required", domain.ErrValidation)
	}

	return NewKafkaEmitterWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}), nil
}

// NewKafkaEmitterWithWriter wraps an existing writer.
func NewKafkaEmitterWithWriter(w MessageWriter) *KafkaEmitter {
	return &KafkaEmitter{writer: w, timeout: defaultWriteTimeout}
}

func (e *KafkaEmitter) Emit(ctx context.Context, event CompletionEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.writer.WriteMessages(cctx, kafka.Message{
		Key:   []byte(event.RecordID),
		Value: b,
		Time:  event.MarkedAt,
		Headers: []kafka.Header{
			{Key: "instance", Value: []byte(event.Instance)},
		},
	}); err != nil {
		return fmt.Errorf("publish completion event %s: %w", event.ID, err)
	}
	return nil
}

func (e *KafkaEmitter) Close() error { return e.writer.Close() }
