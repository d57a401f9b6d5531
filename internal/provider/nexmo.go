package provider

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

const (
	NameNexmo        = "nexmo"
	nexmoDefaultBase = "https://rest.nexmo.com"
)

type NexmoConfig struct {
	APIKey    string
	APISecret string
	From      string
}

type nexmoResponse struct {
	Messages []struct {
		Status    string `json:"status"`
		MessageID string `json:"message-id"`
		ErrorText string `json:"error-text"`
	} `json:"messages"`
}

// NexmoBackend delivers SMS through the Vonage (Nexmo) SMS API. The API
// answers 200 even for rejected messages, so the per-message status is checked.
type NexmoBackend struct {
	client  *resty.Client
	cfg     NexmoConfig
	baseURL string
}

func NewNexmoBackend(cfg NexmoConfig, opts HTTPOptions) (*NexmoBackend, error) {
	if err := requireFields(NameNexmo, map[string]string{
		"api key":    cfg.APIKey,
		"api secret": cfg.APISecret,
		"from":       cfg.From,
	}); err != nil {
		return nil, err
	}
	return &NexmoBackend{
		client:  newRestyClient(opts),
		cfg:     cfg,
		baseURL: baseURLOr(opts, nexmoDefaultBase),
	}, nil
}

func (b *NexmoBackend) Name() string { return NameNexmo }

func (b *NexmoBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	var result nexmoResponse
	response, err := b.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"api_key":    b.cfg.APIKey,
			"api_secret": b.cfg.APISecret,
			"to":         NormalizePhone(destination),
			"from":       b.cfg.From,
			"text":       smsText(content.Text, content.HTML),
		}).
		SetResult(&result).
		Post(fmt.Sprintf("%s/sms/json", b.baseURL))

	resp, err := checkResponse(NameNexmo, response, err)
	if err != nil {
		return nil, err
	}
	if len(result.Messages) == 0 {
		return nil, &ProviderError{Provider: NameNexmo, StatusCode: resp.StatusCode, Message: "response has no message status", Transient: true}
	}

	first := result.Messages[0]
	if first.Status != "0" {
		// Status 1 is throttling; every other non-zero status is a rejection.
		return nil, &ProviderError{
			Provider:   NameNexmo,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("status %s: %s", first.Status, first.ErrorText),
			Transient:  first.Status == "1",
		}
	}
	resp.MessageID = first.MessageID
	return resp, nil
}
