package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/pollmark/internal/core/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

const fullConfig = `
store:
  kind: notion
  notion:
    token: ${TEST_NOTION_TOKEN}
    database_id: db-123
claims:
  enabled: true
llm:
  api_key: key
email:
  sender: team@example.com
whatsapp:
  token: wa-token
  channel_id: 42
instances:
  - name: assessment
    kind: evaluate
    poll_interval: 60s
    predicate:
      - field: Assessment Submitted
        kind: checkbox
        value: "true"
    completion_field: Assessment Reviewed
    fields:
      name: What's your name?
      contact: What's your email?
      payload: Assessment File URL
    outcome:
      score_field: Assessment Score
      feedback_field: Assessment Feedback
  - name: email
    kind: email
    predicate:
      - field: Approval
        kind: select
        value: "Yes"
      - field: WA Message Sent
        kind: checkbox
        value: "false"
    completion_field: Email Sent
    fields:
      name: Name
      contact: Email
    email:
      subject: Next Steps
      body: "Hi {{.Name}}, {{.Link}}"
      link: https://example.com/a
  - name: whatsapp
    kind: whatsapp
    predicate:
      - any:
          - field: Progress
            kind: select
            value: "Yes"
          - field: Fast Track
            kind: checkbox
            value: "true"
    completion_field: WA Message Sent
    fields:
      contact: Phone
    whatsapp:
      template: application_next_step
`

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_NOTION_TOKEN", "secret_abc")

	cfg, err := Load(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Notion.Token != "secret_abc" {
		t.Errorf("Expected token secret_abc, got %s", cfg.Store.Notion.Token)
	}
	if cfg.WhatsApp.ChannelID != 42 {
		t.Errorf("Expected channel 42, got %d", cfg.WhatsApp.ChannelID)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TEST_NOTION_TOKEN", "secret_abc")

	cfg, err := Load(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Claims.TTL != 15*time.Minute {
		t.Errorf("Expected default claim ttl, got %v", cfg.Claims.TTL)
	}

	assessment, _ := cfg.Instance("assessment")
	if assessment.PollInterval != 60*time.Second {
		t.Errorf("Expected 60s interval, got %v", assessment.PollInterval)
	}
	if assessment.NameFallback != "Unknown" {
		t.Errorf("Expected Unknown fallback for evaluate, got %q", assessment.NameFallback)
	}
	if assessment.MaxAuthFailures != 3 {
		t.Errorf("Expected 3 max auth failures, got %d", assessment.MaxAuthFailures)
	}

	email, _ := cfg.Instance("email")
	if email.PollInterval != 300*time.Second {
		t.Errorf("Expected default 300s interval, got %v", email.PollInterval)
	}
	if email.NameFallback != "there" {
		t.Errorf("Expected there fallback for notifier, got %q", email.NameFallback)
	}

	wa, _ := cfg.Instance("whatsapp")
	if wa.WhatsApp.Language != "en" || wa.WhatsApp.DefaultPrefix != "1" {
		t.Errorf("Expected whatsapp defaults, got %+v", wa.WhatsApp)
	}
}

func TestEligibilityAddsCompletionFlag(t *testing.T) {
	t.Setenv("TEST_NOTION_TOKEN", "secret_abc")

	cfg, err := Load(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	inst, _ := cfg.Instance("assessment")

	expr, err := inst.Eligibility()
	if err != nil {
		t.Fatalf("Eligibility failed: %v", err)
	}

	pending := domain.Row{ID: "a", Properties: map[string]domain.Value{
		"Assessment Submitted": domain.Checkbox(true),
	}}
	done := domain.Row{ID: "b", Properties: map[string]domain.Value{
		"Assessment Submitted": domain.Checkbox(true),
		"Assessment Reviewed":  domain.Checkbox(true),
	}}

	if !expr.Matches(pending) {
		t.Errorf("expected pending row to match %s", expr)
	}
	if expr.Matches(done) {
		t.Errorf("expected completed row to be excluded by %s", expr)
	}
}

func TestLoad_ValidationReportsEveryProblem(t *testing.T) {
	path := writeConfig(t, `
store:
  kind: postgres
instances:
  - name: broken
    kind: evaluate
    predicate:
      - field: Submitted
        kind: checkbox
        value: maybe
  - name: broken
    kind: sms
    completion_field: Sent
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}

	for _, want := range []string{
		"store.postgres.url is required",
		`instance "broken": completion_field is required`,
		`checkbox value "maybe"`,
		"fields.payload is required for evaluate",
		`instance "broken": duplicate name`,
		`kind "sms"`,
		"llm.api_key is required",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got:\n%v", want, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
