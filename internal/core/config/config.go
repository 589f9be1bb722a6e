package config

import (
	"time"

	"github.com/vietddude/pollmark/internal/engine/emitter"
	"github.com/vietddude/pollmark/internal/engine/extract"
	"github.com/vietddude/pollmark/internal/engine/predicate"
	"github.com/vietddude/pollmark/internal/engine/tracing"
	"github.com/vietddude/pollmark/internal/infra/channel"
	"github.com/vietddude/pollmark/internal/infra/document"
	"github.com/vietddude/pollmark/internal/infra/llm"
	redisclient "github.com/vietddude/pollmark/internal/infra/redis"
	"github.com/vietddude/pollmark/internal/infra/store/dynamo"
	"github.com/vietddude/pollmark/internal/infra/store/notion"
	"github.com/vietddude/pollmark/internal/infra/store/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig            `yaml:"server"`
	Logging   LoggingConfig           `yaml:"logging"`
	Store     StoreConfig             `yaml:"store"`
	Redis     redisclient.Config      `yaml:"redis"`
	Claims    ClaimsConfig            `yaml:"claims"`
	LLM       llm.Config              `yaml:"llm"`
	Email     channel.SESConfig       `yaml:"email"`
	WhatsApp  channel.RespondIOConfig `yaml:"whatsapp"`
	Documents document.Config         `yaml:"documents"`
	Events    EventsConfig            `yaml:"events"`
	Tracing   tracing.Config          `yaml:"tracing"`
	Instances []InstanceConfig        `yaml:"instances"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Store kinds.
const (
	StoreNotion   = "notion"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Kind     string          `yaml:"kind"`
	Notion   notion.Config   `yaml:"notion"`
	Postgres postgres.Config `yaml:"postgres"`
	DynamoDB dynamo.Config   `yaml:"dynamodb"`
}

// ClaimsConfig controls the claim ledger. Redis is used when redis.url is
// set, an in-process ledger otherwise.
type ClaimsConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	OutcomeTTL time.Duration `yaml:"outcome_ttl"`
}

// EventsConfig configures completion events.
type EventsConfig struct {
	Kafka emitter.KafkaConfig `yaml:"kafka"`
}

// InstanceConfig is one poll-filter-process-mark agent.
type InstanceConfig struct {
	Name            string           `yaml:"name"`
	Kind            string           `yaml:"kind"` // evaluate, email, whatsapp
	PollInterval    time.Duration    `yaml:"poll_interval"`
	Predicate       []predicate.Spec `yaml:"predicate"`
	CompletionField string           `yaml:"completion_field"`
	Fields          extract.Fields   `yaml:"fields"`
	NameFallback    string           `yaml:"name_fallback"`
	Outcome         OutcomeConfig    `yaml:"outcome"`
	Prompt          string           `yaml:"prompt"`
	PromptFile      string           `yaml:"prompt_file"`
	Email           EmailTemplate    `yaml:"email"`
	WhatsApp        WhatsAppTemplate `yaml:"whatsapp"`
	MaxAuthFailures int              `yaml:"max_auth_failures"`
}

// OutcomeConfig names the properties an outcome is written to.
type OutcomeConfig struct {
	ScoreField    string `yaml:"score_field"`
	FeedbackField string `yaml:"feedback_field"`
	ReceiptField  string `yaml:"receipt_field"`
}

// EmailTemplate holds an email instance's message.
type EmailTemplate struct {
	Subject  string `yaml:"subject"`
	Body     string `yaml:"body"`
	BodyFile string `yaml:"body_file"`
	Link     string `yaml:"link"`
}

// WhatsAppTemplate holds a WhatsApp instance's template send.
type WhatsAppTemplate struct {
	Template      string   `yaml:"template"`
	Language      string   `yaml:"language"`
	DefaultPrefix string   `yaml:"default_prefix"`
	Link          string   `yaml:"link"`
	Params        []string `yaml:"params"`
}

// Instance returns the named instance.
func (c *AppConfig) Instance(name string) (InstanceConfig, bool) {
	for _, inst := range c.Instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return InstanceConfig{}, false
}

// Eligibility is the configured predicate conjoined with "completion field
// is unchecked".
func (i InstanceConfig) Eligibility() (predicate.Expr, error) {
	base, err := predicate.Build(i.Predicate)
	if err != nil {
		return nil, err
	}
	return predicate.All(base, predicate.Checkbox(i.CompletionField, false)), nil
}
