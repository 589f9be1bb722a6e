package effect

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/infra/channel"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		score    int
		feedback string
		wantErr  bool
	}{
		{"plain", "SCORE: 8\nFEEDBACK: Good.", 8, "Good.", false},
		{"lower bound", "SCORE: 1\nFEEDBACK: Weak.", 1, "Weak.", false},
		{"upper bound", "SCORE: 10\nFEEDBACK: Excellent.", 10, "Excellent.", false},
		{"surrounding text", "Here you go.\n\nScore: 7\nfeedback:  Strong prompt.\nClear critique.\n", 7, "Strong prompt.\nClear critique.", false},
		{"zero", "SCORE: 0\nFEEDBACK: x", 0, "", true},
		{"eleven", "SCORE: 11\nFEEDBACK: x", 0, "", true},
		{"negative", "SCORE: -2\nFEEDBACK: x", 0, "", true},
		{"missing score", "FEEDBACK: fine", 0, "", true},
		{"missing feedback", "SCORE: 5", 0, "", true},
		{"empty feedback", "SCORE: 5\nFEEDBACK:   ", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, feedback, err := ParseResponse(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.score, score)
			assert.Equal(t, tt.feedback, feedback)
		})
	}
}

func TestParseResponseProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("in-range scores round trip", prop.ForAll(
		func(score int, feedback string) bool {
			s, f, err := ParseResponse(fmt.Sprintf("Evaluation below.\nSCORE: %d\nFEEDBACK: %s", score, feedback))
			return err == nil && s == score && f == feedback
		},
		gen.IntRange(MinScore, MaxScore),
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
	))

	properties.Property("out-of-range scores are rejected", prop.ForAll(
		func(score int) bool {
			_, _, err := ParseResponse(fmt.Sprintf("SCORE: %d\nFEEDBACK: ok", score))
			return errors.Is(err, domain.ErrValidation)
		},
		gen.OneGenOf(gen.IntRange(-1000, MinScore-1), gen.IntRange(MaxScore+1, 1000)),
	))

	properties.TestingRun(t)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+15551234567", NormalizePhone("(555) 123-4567", "1"))
	assert.Equal(t, "+442079460958", NormalizePhone("+44 20 7946 0958", "1"))
	assert.Equal(t, "+15551234567", NormalizePhone(" 555.123.4567 ", "+1"))
}

func TestNormalizePhoneProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("bare digits get the default prefix", prop.ForAll(
		func(digits string) bool {
			return NormalizePhone(digits, "1") == "+1"+digits
		},
		gen.NumString(),
	))

	properties.Property("prefixed numbers keep their prefix", prop.ForAll(
		func(digits string) bool {
			return NormalizePhone("+"+digits, "1") == "+"+digits
		},
		gen.NumString(),
	))

	properties.Property("separators are stripped", prop.ForAll(
		func(a, b string) bool {
			return NormalizePhone("("+a+") "+b+"-"+a, "7") == "+7"+a+b+a
		},
		gen.NumString(), gen.NumString(),
	))

	properties.TestingRun(t)
}

type stubFetcher struct {
	data []byte
	err  error
	refs []string
}

func (s *stubFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	s.refs = append(s.refs, ref)
	return s.data, s.err
}

type stubGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.reply, s.err
}

func docx(t *testing.T, text string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestEvaluatorApply(t *testing.T) {
	fetcher := &stubFetcher{data: docx(t, "X")}
	generator := &stubGenerator{reply: "SCORE: 8\nFEEDBACK: Good."}

	ev, err := NewEvaluator(fetcher, generator, EvaluatorConfig{
		Prompt:        "Grade {{.FirstName}}:\n{{.Text}}",
		ScoreField:    "Assessment Score",
		FeedbackField: "Assessment Feedback",
	})
	require.NoError(t, err)
	assert.Equal(t, RequirePayload, ev.Requires())

	out, err := ev.Apply(context.Background(), domain.Record{
		ID:       "p1",
		Identity: domain.Identity{Name: "Ada Lovelace"},
		Payload:  "https://files.example.com/ada.docx",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://files.example.com/ada.docx"}, fetcher.refs)
	assert.Equal(t, []string{"Grade Ada:\nX"}, generator.prompts)
	require.NotNil(t, out.Score)
	assert.Equal(t, 8, *out.Score)
	assert.Equal(t, "Good.", out.Feedback)
	assert.Equal(t, map[string]domain.Value{
		"Assessment Score":    domain.Number(8),
		"Assessment Feedback": domain.RichText("Good."),
	}, out.Fields)
}

func TestEvaluatorFailures(t *testing.T) {
	cfg := EvaluatorConfig{ScoreField: "s", FeedbackField: "f"}
	rec := domain.Record{ID: "p1", Payload: "https://x/y.pdf"}

	t.Run("fetch error", func(t *testing.T) {
		ev, err := NewEvaluator(&stubFetcher{err: domain.ErrNotFound}, &stubGenerator{}, cfg)
		require.NoError(t, err)
		_, err = ev.Apply(context.Background(), rec)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("corrupt document", func(t *testing.T) {
		gen := &stubGenerator{}
		ev, err := NewEvaluator(&stubFetcher{data: []byte("%PDF-garbage")}, gen, cfg)
		require.NoError(t, err)
		_, err = ev.Apply(context.Background(), rec)
		assert.ErrorIs(t, err, domain.ErrUnsupported)
		assert.Empty(t, gen.prompts, "generator must not run without text")
	})

	t.Run("unparsable reply", func(t *testing.T) {
		ev, err := NewEvaluator(&stubFetcher{data: docx(t, "X")}, &stubGenerator{reply: "I cannot grade this."}, cfg)
		require.NoError(t, err)
		_, err = ev.Apply(context.Background(), rec)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("default prompt embeds text", func(t *testing.T) {
		gen := &stubGenerator{reply: "SCORE: 3\nFEEDBACK: Thin."}
		ev, err := NewEvaluator(&stubFetcher{data: docx(t, "my critique")}, gen, cfg)
		require.NoError(t, err)
		_, err = ev.Apply(context.Background(), rec)
		require.NoError(t, err)
		assert.Contains(t, gen.prompts[0], "Submission:\nmy critique")
	})

	_, err := NewEvaluator(nil, nil, EvaluatorConfig{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

type stubMailer struct {
	sent []channel.Email
	err  error
}

func (s *stubMailer) SendEmail(ctx context.Context, msg channel.Email) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, msg)
	return fmt.Sprintf("msg-%d", len(s.sent)), nil
}

func TestEmailNotifier(t *testing.T) {
	mailer := &stubMailer{}
	n, err := NewEmailNotifier(mailer, EmailConfig{
		Subject:      "Next Steps, {{.FirstName}}",
		Body:         "Hi {{.Name}},\nStart here: {{.Link}}\n",
		Link:         "https://example.com/assessment",
		ReceiptField: "Email Receipt",
	})
	require.NoError(t, err)
	assert.Equal(t, RequireContact, n.Requires())

	out, err := n.Apply(context.Background(), domain.Record{
		ID:       "p1",
		Identity: domain.Identity{Name: "Ada Lovelace", Contact: "ada@example.com", ContactKind: domain.ContactEmail},
	})
	require.NoError(t, err)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, channel.Email{
		To:      "ada@example.com",
		Subject: "Next Steps, Ada",
		Body:    "Hi Ada Lovelace,\nStart here: https://example.com/assessment\n",
	}, mailer.sent[0])
	assert.Equal(t, "msg-1", out.Receipt)
	assert.Equal(t, domain.RichText("msg-1"), out.Fields["Email Receipt"])
}

func TestEmailNotifierConfig(t *testing.T) {
	_, err := NewEmailNotifier(&stubMailer{}, EmailConfig{Subject: "s"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewEmailNotifier(&stubMailer{}, EmailConfig{Subject: "{{.Nope", Body: "b"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	path := filepath.Join(t.TempDir(), "body.txt")
	require.NoError(t, os.WriteFile(path, []byte("From file {{.Link}}"), 0o600))

	mailer := &stubMailer{}
	n, err := NewEmailNotifier(mailer, EmailConfig{Subject: "s", BodyFile: path, Link: "L"})
	require.NoError(t, err)
	_, err = n.Apply(context.Background(), domain.Record{Identity: domain.Identity{Contact: "a@b.c"}})
	require.NoError(t, err)
	assert.Equal(t, "From file L", mailer.sent[0].Body)
}

type stubMessenger struct {
	contacts []string
	names    []string
	sent     []channel.Template
	err      error
}

func (s *stubMessenger) EnsureContact(ctx context.Context, phone, firstName string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.contacts = append(s.contacts, phone)
	s.names = append(s.names, firstName)
	return "phone:" + phone, nil
}

func (s *stubMessenger) SendTemplate(ctx context.Context, contact string, tpl channel.Template) (string, error) {
	s.sent = append(s.sent, tpl)
	return "wa-1", nil
}

func TestWhatsAppNotifier(t *testing.T) {
	messenger := &stubMessenger{}
	n, err := NewWhatsAppNotifier(messenger, WhatsAppConfig{
		Template:      "application_next_step",
		DefaultPrefix: "1",
		Link:          "https://example.com/a",
	})
	require.NoError(t, err)

	out, err := n.Apply(context.Background(), domain.Record{
		ID:       "p1",
		Identity: domain.Identity{Name: "Grace Hopper", Contact: "(555) 123-4567", ContactKind: domain.ContactPhone},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"+15551234567"}, messenger.contacts)
	assert.Equal(t, []string{"Grace Hopper"}, messenger.names)
	assert.Equal(t, []channel.Template{{
		Name:     "application_next_step",
		Language: "en",
		Params:   []string{"Grace Hopper", "https://example.com/a"},
	}}, messenger.sent)
	assert.Equal(t, "wa-1", out.Receipt)
	assert.Empty(t, out.Fields)

	messenger.err = fmt.Errorf("create contact: %w", domain.ErrRejected)
	_, err = n.Apply(context.Background(), domain.Record{Identity: domain.Identity{Contact: "+1"}})
	assert.ErrorIs(t, err, domain.ErrRejected)

	_, err = NewWhatsAppNotifier(messenger, WhatsAppConfig{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewWhatsAppNotifier(messenger, WhatsAppConfig{Template: "t", Params: []string{"{{.Name"}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestWhatsAppNotifierCustomParams(t *testing.T) {
	messenger := &stubMessenger{}
	n, err := NewWhatsAppNotifier(messenger, WhatsAppConfig{
		Template: "short_greeting",
		Params:   []string{"{{.FirstName}}"},
	})
	require.NoError(t, err)

	_, err = n.Apply(context.Background(), domain.Record{
		ID:       "p2",
		Identity: domain.Identity{Name: "Maria Garcia", Contact: "+34 600 000 000", ContactKind: domain.ContactPhone},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Maria Garcia"}, messenger.names)
	require.Len(t, messenger.sent, 1)
	assert.Equal(t, []string{"Maria"}, messenger.sent[0].Params)
}

func TestRequirementMissing(t *testing.T) {
	both := RequireContact | RequirePayload
	assert.Equal(t, []string{"contact", "payload"}, both.Missing(domain.Record{}))
	assert.Empty(t, both.Missing(domain.Record{Identity: domain.Identity{Contact: "x"}, Payload: "p"}))
	assert.Empty(t, Requirement(0).Missing(domain.Record{}))
}
