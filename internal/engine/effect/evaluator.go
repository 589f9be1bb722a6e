package effect

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/extract"
	"github.com/vietddude/pollmark/internal/infra/document"
	"github.com/vietddude/pollmark/internal/infra/llm"
)

const (
	MinScore = 1
	MaxScore = 10
)

// DefaultPrompt is used when an evaluate instance configures none.
const DefaultPrompt = `You are evaluating a design prompter applicant's submission.

The applicant was asked to:
1. Write an ambitious AI prompt for design/creative work
2. Generate output using ChatGPT/Claude/Gemini
3. Write a 200-300 word critique of the output

Evaluate this submission on:
- Prompt Quality (creativity, technical depth, clarity)
- Critique Quality (specificity, design insight, honesty, articulation)
- Overall Execution (did they demonstrate strong prompting + design thinking?)

Provide your evaluation in this exact format:

SCORE: [number from 1-10]
FEEDBACK: [2-3 sentences on strengths and areas for improvement]

Where 7+ is a strong pass.

Submission:
{{.Text}}
`

var (
	scorePattern    = regexp.MustCompile(`(?i)SCORE:\s*(-?\d+)`)
	feedbackPattern = regexp.MustCompile(`(?is)FEEDBACK:\s*(.+)`)
)

// ParseResponse pulls the score and feedback out of a free-text reply. The
// feedback runs to the end of the reply.
func ParseResponse(text string) (int, string, error) {
	sm := scorePattern.FindStringSubmatch(text)
	if sm == nil {
		return 0, "", fmt.Errorf("%w: no SCORE in response", domain.ErrValidation)
	}
	fm := feedbackPattern.FindStringSubmatch(text)
	if fm == nil {
		return 0, "", fmt.Errorf("%w: no FEEDBACK in response", domain.ErrValidation)
	}

	score, err := strconv.Atoi(sm[1])
	if err != nil {
		return 0, "", fmt.Errorf("%w: score %q: %w", domain.ErrValidation, sm[1], err)
	}
	if err := ValidateScore(score); err != nil {
		return 0, "", err
	}

	feedback := strings.TrimSpace(fm[1])
	if feedback == "" {
		return 0, "", fmt.Errorf("%w: empty FEEDBACK", domain.ErrValidation)
	}
	return score, feedback, nil
}

// ValidateScore checks the inclusive score range.
func ValidateScore(score int) error {
	if score < MinScore || score > MaxScore {
		return fmt.Errorf("%w: score %d outside %d..%d", domain.ErrValidation, score, MinScore, MaxScore)
	}
	return nil
}

// ScoreOutcome is the write-back for a score, shared by the evaluator and
// manual reviews.
func ScoreOutcome(score int, feedback, scoreField, feedbackField string) domain.Outcome {
	return domain.Outcome{
		Score:    &score,
		Feedback: feedback,
		Fields: map[string]domain.Value{
			scoreField:    domain.Number(float64(score)),
			feedbackField: domain.RichText(feedback),
		},
	}
}

// DocumentFetcher loads the bytes a payload reference points at.
type DocumentFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// EvaluatorConfig configures an Evaluator.
type EvaluatorConfig struct {
	Prompt        string
	ScoreField    string
	FeedbackField string
}

// Evaluator scores a submitted document with a text generator.
type Evaluator struct {
	fetcher       DocumentFetcher
	generator     llm.Generator
	prompt        *template.Template
	scoreField    string
	feedbackField string
}

// NewEvaluator validates cfg and builds an evaluator.
func NewEvaluator(fetcher DocumentFetcher, gen llm.Generator, cfg EvaluatorConfig) (*Evaluator, error) {
	if cfg.ScoreField == "" || cfg.FeedbackField == "" {
		return nil, fmt.Errorf("%w: evaluator needs score and feedback fields", domain.ErrValidation)
	}
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	tpl, err := parseTemplate("prompt", prompt)
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		fetcher:       fetcher,
		generator:     gen,
		prompt:        tpl,
		scoreField:    cfg.ScoreField,
		feedbackField: cfg.FeedbackField,
	}, nil
}

func (e *Evaluator) Name() string { return KindEvaluate }

func (e *Evaluator) Requires() Requirement { return RequirePayload }

func (e *Evaluator) Apply(ctx context.Context, rec domain.Record) (domain.Outcome, error) {
	data, err := e.fetcher.Fetch(ctx, rec.Payload)
	if err != nil {
		return domain.Outcome{}, err
	}

	text, _, err := document.ExtractText(data)
	if err != nil {
		return domain.Outcome{}, err
	}

	prompt, err := render(e.prompt, messageData{
		Name:      rec.Identity.Name,
		FirstName: extract.FirstName(rec.Identity.Name),
		Text:      text,
	})
	if err != nil {
		return domain.Outcome{}, err
	}

	reply, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return domain.Outcome{}, err
	}

	score, feedback, err := ParseResponse(reply)
	if err != nil {
		return domain.Outcome{}, err
	}
	return ScoreOutcome(score, feedback, e.scoreField, e.feedbackField), nil
}
