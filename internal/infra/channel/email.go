// Package channel delivers notifications: email through SES and WhatsApp
// templates through respond.io.
package channel

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/infra/awsutil"
)

// Email is a single plain-text message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends an email and returns the provider message id.
type Mailer interface {
	SendEmail(ctx context.Context, msg Email) (string, error)
}

// SESConfig configures the SES mailer.
type SESConfig struct {
	Region   string `yaml:"region"`
	Sender   string `yaml:"sender"`
	Endpoint string `yaml:"endpoint"`
}

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer sends raw MIME messages through SES v2.
type SESMailer struct {
	client SESAPI
	sender string
	now    func() time.Time
}

// NewSESMailer loads AWS credentials from the environment and builds a mailer.
func NewSESMailer(ctx context.Context, cfg SESConfig) (*SESMailer, error) {
	if cfg.Sender == "" {
		return nil, fmt.Errorf("%w: email sender is required", domain.ErrValidation)
	}
	awsCfg, err := awsutil.Load(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}
	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewSESMailerWithClient(client, cfg.Sender), nil
}

// NewSESMailerWithClient wraps an existing client.
func NewSESMailerWithClient(client SESAPI, sender string) *SESMailer {
	return &SESMailer{client: client, sender: sender, now: time.Now}
}

func (m *SESMailer) SendEmail(ctx context.Context, msg Email) (string, error) {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return "", fmt.Errorf("%w: recipient %q: %w", domain.ErrValidation, msg.To, err)
	}

	raw, err := m.buildRaw(msg)
	if err != nil {
		return "", err
	}

	out, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.sender),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
	})
	if err != nil {
		return "", fmt.Errorf("ses send to %s: %w", msg.To, awsutil.Classify(err))
	}
	return aws.ToString(out.MessageId), nil
}

func (m *SESMailer) buildRaw(msg Email) ([]byte, error) {
	var buf bytes.Buffer

	header := func(k, v string) {
		buf.WriteString(k + ": " + v + "\r\n")
	}
	header("From", m.sender)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", m.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	if _, err := qp.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n"))); err != nil {
		return nil, fmt.Errorf("encode email body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encode email body: %w", err)
	}
	return buf.Bytes(), nil
}
