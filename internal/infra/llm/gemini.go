package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/infra/rest"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini generates through the Gemini API.
type Gemini struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

// NewGemini creates a Gemini API generator.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Gemini{client: client, model: model, maxTokens: int32(maxTokens)}, nil
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		MaxOutputTokens: g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", classifyGemini(err))
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini generate: %w: empty response", domain.ErrValidation)
	}
	return text, nil
}

func classifyGemini(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", rest.Classify(apiErr.Code), err)
	}
	return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
}
