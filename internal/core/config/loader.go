package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/pollmark/internal/core/claim"
	"github.com/vietddude/pollmark/internal/engine/effect"
	"github.com/vietddude/pollmark/internal/engine/scheduler"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Store.Kind == "" {
		c.Store.Kind = StoreNotion
	}
	if c.Claims.TTL == 0 {
		c.Claims.TTL = claim.DefaultTTL
	}
	if c.Claims.OutcomeTTL == 0 {
		c.Claims.OutcomeTTL = claim.DefaultOutcomeTTL
	}

	for i := range c.Instances {
		inst := &c.Instances[i]
		if inst.PollInterval == 0 {
			inst.PollInterval = scheduler.DefaultInterval
		}
		if inst.MaxAuthFailures == 0 {
			inst.MaxAuthFailures = scheduler.DefaultMaxAuthFailures
		}
		if inst.NameFallback == "" {
			inst.NameFallback = "there"
			if inst.Kind == effect.KindEvaluate {
				inst.NameFallback = "Unknown"
			}
		}
		if inst.Kind == effect.KindWhatsApp {
			if inst.WhatsApp.Language == "" {
				inst.WhatsApp.Language = "en"
			}
			if inst.WhatsApp.DefaultPrefix == "" {
				inst.WhatsApp.DefaultPrefix = "1"
			}
		}
	}
}

// Validate reports every configuration problem at once.
func (c *AppConfig) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Store.Kind {
	case StoreNotion:
		if c.Store.Notion.Token == "" {
			add("store.notion.token is required")
		}
		if c.Store.Notion.DatabaseID == "" {
			add("store.notion.database_id is required")
		}
	case StorePostgres:
		if c.Store.Postgres.URL == "" {
			add("store.postgres.url is required")
		}
	case StoreDynamoDB:
		if c.Store.DynamoDB.Table == "" {
			add("store.dynamodb.table is required")
		}
	case StoreMemory:
	default:
		add("store.kind %q is not one of notion, postgres, dynamodb, memory", c.Store.Kind)
	}

	if len(c.Instances) == 0 {
		add("at least one instance is required")
	}

	seen := make(map[string]bool)
	kinds := make(map[string]bool)
	for i, inst := range c.Instances {
		prefix := fmt.Sprintf("instances[%d]", i)
		if inst.Name != "" {
			prefix = fmt.Sprintf("instance %q", inst.Name)
		}
		kinds[inst.Kind] = true

		if inst.Name == "" {
			add("%s: name is required", prefix)
		} else if seen[inst.Name] {
			add("%s: duplicate name", prefix)
		}
		seen[inst.Name] = true

		if inst.CompletionField == "" {
			add("%s: completion_field is required", prefix)
		}
		if _, err := inst.Eligibility(); err != nil {
			add("%s: %w", prefix, err)
		}
		if inst.PollInterval < time.Second {
			add("%s: poll_interval must be at least 1s", prefix)
		}

		switch inst.Kind {
		case effect.KindEvaluate:
			if inst.Fields.Payload == "" {
				add("%s: fields.payload is required for evaluate", prefix)
			}
			if inst.Outcome.ScoreField == "" || inst.Outcome.FeedbackField == "" {
				add("%s: outcome.score_field and outcome.feedback_field are required for evaluate", prefix)
			}
		case effect.KindEmail:
			if inst.Fields.Contact == "" {
				add("%s: fields.contact is required for email", prefix)
			}
			if inst.Email.Subject == "" || (inst.Email.Body == "" && inst.Email.BodyFile == "") {
				add("%s: email.subject and email.body or email.body_file are required", prefix)
			}
		case effect.KindWhatsApp:
			if inst.Fields.Contact == "" {
				add("%s: fields.contact is required for whatsapp", prefix)
			}
			if inst.WhatsApp.Template == "" {
				add("%s: whatsapp.template is required", prefix)
			}
		default:
			add("%s: kind %q is not one of evaluate, email, whatsapp", prefix, inst.Kind)
		}
	}

	if kinds[effect.KindEvaluate] && c.LLM.APIKey == "" {
		add("llm.api_key is required for evaluate instances")
	}
	if kinds[effect.KindEmail] && c.Email.Sender == "" {
		add("email.sender is required for email instances")
	}
	if kinds[effect.KindWhatsApp] && c.WhatsApp.Token == "" {
		add("whatsapp.token is required for whatsapp instances")
	}

	return errors.Join(errs...)
}
