package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

const NameWebhook = "webhook"

type webhookRequest struct {
	To      string             `json:"to"`
	Channel string             `json:"channel"`
	Payload domain.PushPayload `json:"payload"`
}

// WebhookBackend delivers push notifications by posting the JSON payload to a
// push gateway endpoint.
type WebhookBackend struct {
	client    *resty.Client
	endpoint  string
	authToken string
}

func NewWebhookBackend(endpoint, authToken string, opts HTTPOptions) (*WebhookBackend, error) {
	return NewWebhookBackendWithClient(endpoint, authToken, newRestyClient(opts))
}

func NewWebhookBackendWithClient(endpoint, authToken string, client *resty.Client) (*WebhookBackend, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("%w: %s missing endpoint", ErrNotConfigured, NameWebhook)
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHTTPTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookBackend{
		client:    client,
		endpoint:  trimmedEndpoint,
		authToken: strings.TrimSpace(authToken),
	}, nil
}

func (b *WebhookBackend) Name() string { return NameWebhook }

func (b *WebhookBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	payload := domain.PushPayload{Title: content.Subject, Message: content.Text}
	if content.Push != nil {
		payload = *content.Push
	}

	req := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookRequest{
			To:      destination,
			Channel: domain.ChannelPush.Key(),
			Payload: payload,
		})
	if b.authToken != "" {
		req.SetAuthToken(b.authToken)
	}

	response, err := req.Post(b.endpoint)
	return checkResponse(NameWebhook, response, err)
}
