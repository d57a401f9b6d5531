package provider

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

const (
	NameSendGrid        = "sendgrid"
	sendGridDefaultBase = "https://api.sendgrid.com"
)

type SendGridConfig struct {
	APIKey string
	From   string
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

// SendGridBackend delivers email through the SendGrid v3 mail API.
type SendGridBackend struct {
	client  *resty.Client
	cfg     SendGridConfig
	baseURL string
}

func NewSendGridBackend(cfg SendGridConfig, opts HTTPOptions) (*SendGridBackend, error) {
	if err := requireFields(NameSendGrid, map[string]string{"api key": cfg.APIKey, "from": cfg.From}); err != nil {
		return nil, err
	}
	return &SendGridBackend{
		client:  newRestyClient(opts),
		cfg:     cfg,
		baseURL: baseURLOr(opts, sendGridDefaultBase),
	}, nil
}

func (b *SendGridBackend) Name() string { return NameSendGrid }

func (b *SendGridBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	req := sendGridRequest{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: destination}}}},
		From:             sendGridAddress{Email: b.cfg.From},
		Subject:          content.Subject,
	}

	text, html := emailBodies(content)
	req.Content = append(req.Content, sendGridContent{Type: "text/plain", Value: text})
	if html != "" {
		req.Content = append(req.Content, sendGridContent{Type: "text/html", Value: html})
	}

	response, err := b.client.R().
		SetContext(ctx).
		SetAuthToken(b.cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(fmt.Sprintf("%s/v3/mail/send", b.baseURL))
	return checkResponse(NameSendGrid, response, err)
}

// emailBodies returns the plain-text and HTML parts, deriving text from HTML
// when only HTML was rendered.
func emailBodies(content domain.RenderedContent) (string, string) {
	text := content.Text
	if text == "" {
		text = PlainText(content.HTML)
	}
	return text, content.HTML
}
