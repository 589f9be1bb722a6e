package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/infra/rest"
)

const (
	DefaultAnthropicURL   = "https://api.anthropic.com/v1"
	DefaultAnthropicModel = "claude-3-5-sonnet-latest"
	anthropicVersion      = "2023-06-01"
)

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Anthropic calls the Messages API.
type Anthropic struct {
	client    *rest.Client
	model     string
	maxTokens int
}

// NewAnthropic creates a Messages API generator.
func NewAnthropic(cfg Config) *Anthropic {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultAnthropicURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Anthropic{
		client: rest.New("anthropic", base, rest.Options{
			Timeout: cfg.Timeout,
			Headers: map[string]string{
				"x-api-key":         cfg.APIKey,
				"anthropic-version": anthropicVersion,
			},
		}),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (a *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	req := anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}

	var resp anthropicResponse
	if err := a.client.Do(ctx, http.MethodPost, "/messages", req, &resp); err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}

	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic generate: %w: empty response (stop_reason=%s)", domain.ErrValidation, resp.StopReason)
	}
	return b.String(), nil
}
