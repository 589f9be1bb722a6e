package effect

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/extract"
	"github.com/vietddude/pollmark/internal/infra/channel"
)

// EmailConfig configures an EmailNotifier. BodyFile, when set, replaces Body.
type EmailConfig struct {
	Subject      string
	Body         string
	BodyFile     string
	Link         string
	ReceiptField string
}

// EmailNotifier sends a templated email to the record's address.
type EmailNotifier struct {
	mailer       channel.Mailer
	subject      *template.Template
	body         *template.Template
	link         string
	receiptField string
}

// NewEmailNotifier parses the subject and body templates.
func NewEmailNotifier(mailer channel.Mailer, cfg EmailConfig) (*EmailNotifier, error) {
	body := cfg.Body
	if cfg.BodyFile != "" {
		data, err := os.ReadFile(cfg.BodyFile)
		if err != nil {
			return nil, fmt.Errorf("read email body file: %w", err)
		}
		body = string(data)
	}
	if strings.TrimSpace(cfg.Subject) == "" || strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: email subject and body are required", domain.ErrValidation)
	}

	subject, err := parseTemplate("subject", cfg.Subject)
	if err != nil {
		return nil, err
	}
	bodyTpl, err := parseTemplate("body", body)
	if err != nil {
		return nil, err
	}

	return &EmailNotifier{
		mailer:       mailer,
		subject:      subject,
		body:         bodyTpl,
		link:         cfg.Link,
		receiptField: cfg.ReceiptField,
	}, nil
}

func (n *EmailNotifier) Name() string { return KindEmail }

func (n *EmailNotifier) Requires() Requirement { return RequireContact }

func (n *EmailNotifier) Apply(ctx context.Context, rec domain.Record) (domain.Outcome, error) {
	data := messageData{
		Name:      rec.Identity.Name,
		FirstName: extract.FirstName(rec.Identity.Name),
		Link:      n.link,
	}
	subject, err := render(n.subject, data)
	if err != nil {
		return domain.Outcome{}, err
	}
	body, err := render(n.body, data)
	if err != nil {
		return domain.Outcome{}, err
	}

	id, err := n.mailer.SendEmail(ctx, channel.Email{
		To:      rec.Identity.Contact,
		Subject: strings.TrimSpace(subject),
		Body:    body,
	})
	if err != nil {
		return domain.Outcome{}, err
	}
	return receiptOutcome(id, n.receiptField), nil
}

// WhatsAppConfig configures a WhatsAppNotifier.
type WhatsAppConfig struct {
	Template      string
	Language      string
	DefaultPrefix string
	Link          string
	ReceiptField  string
	// Params are templates for the approved template's positional
	// parameters. Defaults to the full name followed by the link.
	Params []string
}

// DefaultWhatsAppParams fill the template with the record's name and the link.
var DefaultWhatsAppParams = []string{"{{.Name}}", "{{.Link}}"}

// WhatsAppNotifier sends an approved template to the record's phone.
type WhatsAppNotifier struct {
	messenger channel.Messenger
	cfg       WhatsAppConfig
	params    []*template.Template
}

// NewWhatsAppNotifier validates cfg.
func NewWhatsAppNotifier(messenger channel.Messenger, cfg WhatsAppConfig) (*WhatsAppNotifier, error) {
	if cfg.Template == "" {
		return nil, fmt.Errorf("%w: whatsapp template is required", domain.ErrValidation)
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.DefaultPrefix == "" {
		cfg.DefaultPrefix = "1"
	}
	if len(cfg.Params) == 0 {
		cfg.Params = DefaultWhatsAppParams
	}

	params := make([]*template.Template, 0, len(cfg.Params))
	for i, text := range cfg.Params {
		tpl, err := parseTemplate(fmt.Sprintf("param %d", i+1), text)
		if err != nil {
			return nil, err
		}
		params = append(params, tpl)
	}
	return &WhatsAppNotifier{messenger: messenger, cfg: cfg, params: params}, nil
}

func (n *WhatsAppNotifier) Name() string { return KindWhatsApp }

func (n *WhatsAppNotifier) Requires() Requirement { return RequireContact }

func (n *WhatsAppNotifier) Apply(ctx context.Context, rec domain.Record) (domain.Outcome, error) {
	phone := NormalizePhone(rec.Identity.Contact, n.cfg.DefaultPrefix)
	data := messageData{
		Name:      rec.Identity.Name,
		FirstName: extract.FirstName(rec.Identity.Name),
		Link:      n.cfg.Link,
	}

	params := make([]string, 0, len(n.params))
	for _, tpl := range n.params {
		v, err := render(tpl, data)
		if err != nil {
			return domain.Outcome{}, err
		}
		params = append(params, v)
	}

	contact, err := n.messenger.EnsureContact(ctx, phone, rec.Identity.Name)
	if err != nil {
		return domain.Outcome{}, err
	}

	id, err := n.messenger.SendTemplate(ctx, contact, channel.Template{
		Name:     n.cfg.Template,
		Language: n.cfg.Language,
		Params:   params,
	})
	if err != nil {
		return domain.Outcome{}, err
	}
	return receiptOutcome(id, n.cfg.ReceiptField), nil
}

// NormalizePhone strips separators and makes sure the number carries a
// country prefix.
func NormalizePhone(raw, defaultPrefix string) string {
	phone := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+" + strings.TrimPrefix(defaultPrefix, "+") + phone
}

func receiptOutcome(id, field string) domain.Outcome {
	out := domain.Outcome{Receipt: id, Fields: map[string]domain.Value{}}
	if field != "" && id != "" {
		out.Fields[field] = domain.RichText(id)
	}
	return out
}
