// Package llm wraps the text generation backends used by the evaluator.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/pollmark/internal/core/domain"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"

	DefaultMaxTokens = 1024
)

// Generator turns a single prompt into free text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// New builds the generator named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: llm api_key is required", domain.ErrValidation)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderAnthropic:
		return NewAnthropic(cfg), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: llm provider %q", domain.ErrUnsupported, cfg.Provider)
	}
}
