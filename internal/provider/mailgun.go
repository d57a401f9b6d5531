package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

const (
	NameMailgun        = "mailgun"
	mailgunDefaultBase = "https://api.mailgun.net"
)

type MailgunConfig struct {
	APIKey string
	Domain string
	From   string
}

type mailgunResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// MailgunBackend delivers email through the Mailgun messages API.
type MailgunBackend struct {
	client  *resty.Client
	cfg     MailgunConfig
	baseURL string
}

func NewMailgunBackend(cfg MailgunConfig, opts HTTPOptions) (*MailgunBackend, error) {
	if err := requireFields(NameMailgun, map[string]string{"api key": cfg.APIKey, "domain": cfg.Domain, "from": cfg.From}); err != nil {
		return nil, err
	}
	return &MailgunBackend{
		client:  newRestyClient(opts),
		cfg:     cfg,
		baseURL: baseURLOr(opts, mailgunDefaultBase),
	}, nil
}

func (b *MailgunBackend) Name() string { return NameMailgun }

func (b *MailgunBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	text, html := emailBodies(content)
	form := map[string]string{
		"from":    b.cfg.From,
		"to":      destination,
		"subject": content.Subject,
		"text":    text,
	}
	if html != "" {
		form["html"] = html
	}

	var result mailgunResponse
	response, err := b.client.R().
		SetContext(ctx).
		SetBasicAuth("api", b.cfg.APIKey).
		SetFormData(form).
		SetResult(&result).
		Post(fmt.Sprintf("%s/v3/%s/messages", b.baseURL, strings.TrimSpace(b.cfg.Domain)))

	resp, err := checkResponse(NameMailgun, response, err)
	if err != nil {
		return nil, err
	}
	if result.ID != "" {
		resp.MessageID = result.ID
	}
	return resp, nil
}
