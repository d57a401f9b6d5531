package provider

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

const (
	NamePostmark        = "postmark"
	postmarkDefaultBase = "https://api.postmarkapp.com"
)

type PostmarkConfig struct {
	ServerToken string
	From        string
}

type postmarkRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	TextBody string `json:"TextBody"`
	HtmlBody string `json:"HtmlBody,omitempty"`
}

type postmarkResponse struct {
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// PostmarkBackend delivers email through the Postmark email API.
type PostmarkBackend struct {
	client  *resty.Client
	cfg     PostmarkConfig
	baseURL string
}

func NewPostmarkBackend(cfg PostmarkConfig, opts HTTPOptions) (*PostmarkBackend, error) {
	if err := requireFields(NamePostmark, map[string]string{"server token": cfg.ServerToken, "from": cfg.From}); err != nil {
		return nil, err
	}
	return &PostmarkBackend{
		client:  newRestyClient(opts),
		cfg:     cfg,
		baseURL: baseURLOr(opts, postmarkDefaultBase),
	}, nil
}

func (b *PostmarkBackend) Name() string { return NamePostmark }

func (b *PostmarkBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	text, html := emailBodies(content)

	var result postmarkResponse
	response, err := b.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("X-Postmark-Server-Token", b.cfg.ServerToken).
		SetBody(postmarkRequest{
			From:     b.cfg.From,
			To:       destination,
			Subject:  content.Subject,
			TextBody: text,
			HtmlBody: html,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("%s/email", b.baseURL))

	resp, err := checkResponse(NamePostmark, response, err)
	if err != nil {
		return nil, err
	}
	if result.ErrorCode != 0 {
		return nil, &ProviderError{
			Provider:   NamePostmark,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("error code %d: %s", result.ErrorCode, result.Message),
		}
	}
	resp.MessageID = result.MessageID
	return resp, nil
}
