package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/infra/rest"
)

const DefaultRespondIOURL = "https://api.respond.io/v2"

// Template is a WhatsApp template send with positional body parameters.
type Template struct {
	Name     string
	Language string
	Params   []string
}

// Messenger delivers WhatsApp templates to contacts.
type Messenger interface {
	// EnsureContact returns the contact identifier for phone, creating the
	// contact when it does not exist yet.
	EnsureContact(ctx context.Context, phone, firstName string) (string, error)
	// SendTemplate sends tpl and returns the provider message id.
	SendTemplate(ctx context.Context, contact string, tpl Template) (string, error)
}

// RespondIOConfig configures the respond.io client.
type RespondIOConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	ChannelID     int64         `yaml:"channel_id"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
}

// RespondIO is a Messenger backed by the respond.io v2 API.
type RespondIO struct {
	client    *rest.Client
	channelID int64
}

// NewRespondIO creates a respond.io messenger.
func NewRespondIO(cfg RespondIOConfig) (*RespondIO, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: respond.io token is required", domain.ErrValidation)
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultRespondIOURL
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}

	return &RespondIO{
		client: rest.New("respondio", base, rest.Options{
			Timeout:       cfg.Timeout,
			Headers:       map[string]string{"Authorization": "Bearer " + cfg.Token},
			RatePerSecond: rps,
			Burst:         int(rps),
		}),
		channelID: cfg.ChannelID,
	}, nil
}

type createContactRequest struct {
	FirstName string `json:"firstName"`
	ChannelID int64  `json:"channelId,omitempty"`
}

func (r *RespondIO) EnsureContact(ctx context.Context, phone, firstName string) (string, error) {
	identifier := "phone:" + phone
	path := "/contact/" + url.PathEscape(identifier)

	err := r.client.Do(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		return identifier, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("lookup contact %s: %w", identifier, err)
	}

	req := createContactRequest{FirstName: firstName, ChannelID: r.channelID}
	if err := r.client.Do(ctx, http.MethodPost, path, req, nil); err != nil {
		return "", fmt.Errorf("create contact %s: %w", identifier, err)
	}
	return identifier, nil
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateBody struct {
	Name         string              `json:"name"`
	LanguageCode string              `json:"languageCode"`
	Components   []templateComponent `json:"components"`
}

type messageBody struct {
	Type     string       `json:"type"`
	Template templateBody `json:"template"`
}

type sendMessageRequest struct {
	ChannelID int64       `json:"channelId,omitempty"`
	Message   messageBody `json:"message"`
}

type sendMessageResponse struct {
	MessageID any `json:"messageId"`
}

func (r *RespondIO) SendTemplate(ctx context.Context, contact string, tpl Template) (string, error) {
	params := make([]templateParameter, len(tpl.Params))
	for i, p := range tpl.Params {
		params[i] = templateParameter{Type: "text", Text: p}
	}

	req := sendMessageRequest{
		ChannelID: r.channelID,
		Message: messageBody{
			Type: "whatsapp_template",
			Template: templateBody{
				Name:         tpl.Name,
				LanguageCode: tpl.Language,
				Components:   []templateComponent{{Type: "body", Parameters: params}},
			},
		},
	}

	var resp sendMessageResponse
	path := "/contact/" + url.PathEscape(contact) + "/message"
	if err := r.client.Do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", fmt.Errorf("send template %s to %s: %w", tpl.Name, contact, err)
	}

	switch id := resp.MessageID.(type) {
	case nil:
		return "", nil
	case string:
		return id, nil
	case float64:
		return fmt.Sprintf("%.0f", id), nil
	default:
		return fmt.Sprint(id), nil
	}
}
