package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/pollmark/internal/control"
	"github.com/vietddude/pollmark/internal/core/config"
	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/effect"
	"github.com/vietddude/pollmark/internal/engine/extract"
	"github.com/vietddude/pollmark/internal/engine/predicate"
	"github.com/vietddude/pollmark/internal/infra/channel"
	"github.com/vietddude/pollmark/internal/infra/store/memory"
)

type unusedGenerator struct{}

func (unusedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "SCORE: 1\nFEEDBACK: unused", nil
}

type nopMailer struct{}

func (nopMailer) SendEmail(ctx context.Context, msg channel.Email) (string, error) {
	return "ses-1", nil
}

func reviewApp(t *testing.T, st *memory.Store) *control.App {
	t.Helper()
	cfg := &config.AppConfig{
		Store: config.StoreConfig{Kind: config.StoreMemory},
		Instances: []config.InstanceConfig{
			{
				Name:            "assessment",
				Kind:            effect.KindEvaluate,
				PollInterval:    time.Hour,
				Predicate:       []predicate.Spec{{Field: "Assessment Submitted", Kind: predicate.KindCheckbox, Value: "true"}},
				CompletionField: "Assessment Reviewed",
				Fields:          extract.Fields{Name: "Name", Contact: "Email", Payload: "File"},
				Outcome:         config.OutcomeConfig{ScoreField: "Assessment Score", FeedbackField: "Assessment Feedback"},
				MaxAuthFailures: 3,
			},
			{
				Name:            "email",
				Kind:            effect.KindEmail,
				PollInterval:    time.Hour,
				Predicate:       []predicate.Spec{{Field: "Approval", Kind: predicate.KindSelect, Value: "Yes"}},
				CompletionField: "Email Sent",
				Fields:          extract.Fields{Name: "Name", Contact: "Email"},
				Email:           config.EmailTemplate{Subject: "Next steps", Body: "Hi {{.Name}}"},
				MaxAuthFailures: 3,
			},
		},
	}
	app, err := control.NewApp(context.Background(), cfg, control.Deps{
		Store:     st,
		Generator: unusedGenerator{},
		Mailer:    nopMailer{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { stopApp(app) })
	return app
}

func TestReviewMarksRecord(t *testing.T) {
	st := memory.New(domain.Row{ID: "p1", Properties: map[string]domain.Value{
		"Name":                 domain.Title("Ada Lovelace"),
		"Assessment Submitted": domain.Checkbox(true),
	}})
	app := reviewApp(t, st)
	inst, ok := app.Instance("assessment")
	require.True(t, ok)

	var out bytes.Buffer
	require.NoError(t, review(context.Background(), app, inst, "p1", 9, "Clear and well argued.", &out))
	assert.Equal(t, "Reviewed p1 (Ada Lovelace): score 9\n", out.String())

	row, err := st.Get(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, row.Properties["Assessment Score"].Number)
	assert.Equal(t, 9.0, *row.Properties["Assessment Score"].Number)
	assert.Equal(t, "Clear and well argued.", row.Properties["Assessment Feedback"].Text)
	assert.True(t, row.Properties["Assessment Reviewed"].Bool)
}

func TestReviewReturnsErrors(t *testing.T) {
	st := memory.New()
	app := reviewApp(t, st)
	ctx := context.Background()

	assessment, ok := app.Instance("assessment")
	require.True(t, ok)
	err := review(ctx, app, assessment, "missing", 7, "ok", &bytes.Buffer{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	email, ok := app.Instance("email")
	require.True(t, ok)
	err = review(ctx, app, email, "p1", 7, "ok", &bytes.Buffer{})
	assert.ErrorContains(t, err, "needs an evaluate instance")

	assert.Empty(t, st.Patches())
}
