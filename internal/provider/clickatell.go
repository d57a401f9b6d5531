package provider

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

const (
	NameClickatell        = "clickatell"
	clickatellDefaultBase = "https://platform.clickatell.com"
)

type ClickatellConfig struct {
	APIKey string
}

type clickatellRequest struct {
	Content string   `json:"content"`
	To      []string `json:"to"`
}

type clickatellResponse struct {
	Messages []struct {
		APIMessageID string `json:"apiMessageId"`
		Accepted     bool   `json:"accepted"`
		To           string `json:"to"`
		Error        any    `json:"error"`
	} `json:"messages"`
}

// ClickatellBackend delivers SMS through the Clickatell platform HTTP API.
type ClickatellBackend struct {
	client  *resty.Client
	cfg     ClickatellConfig
	baseURL string
}

func NewClickatellBackend(cfg ClickatellConfig, opts HTTPOptions) (*ClickatellBackend, error) {
	if err := requireFields(NameClickatell, map[string]string{"api key": cfg.APIKey}); err != nil {
		return nil, err
	}
	return &ClickatellBackend{
		client:  newRestyClient(opts),
		cfg:     cfg,
		baseURL: baseURLOr(opts, clickatellDefaultBase),
	}, nil
}

func (b *ClickatellBackend) Name() string { return NameClickatell }

func (b *ClickatellBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	var result clickatellResponse
	response, err := b.client.R().
		SetContext(ctx).
		SetHeader("Authorization", b.cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetBody(clickatellRequest{
			Content: smsText(content.Text, content.HTML),
			To:      []string{NormalizePhone(destination)},
		}).
		SetResult(&result).
		Post(fmt.Sprintf("%s/messages/http/send", b.baseURL))

	resp, err := checkResponse(NameClickatell, response, err)
	if err != nil {
		return nil, err
	}
	if len(result.Messages) > 0 {
		first := result.Messages[0]
		if !first.Accepted {
			return nil, &ProviderError{
				Provider:   NameClickatell,
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("message not accepted: %v", first.Error),
			}
		}
		resp.MessageID = first.APIMessageID
	}
	return resp, nil
}
