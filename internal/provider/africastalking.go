package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

const (
	NameAfricasTalking        = "africastalking"
	africasTalkingDefaultBase = "https://api.africastalking.com"
)

type AfricasTalkingConfig struct {
	APIKey   string
	Username string
	// From is an optional registered sender id or short code.
	From string
}

type africasTalkingRequest struct {
	Username     string   `json:"username"`
	Message      string   `json:"message"`
	PhoneNumbers []string `json:"phoneNumbers"`
	SenderID     string   `json:"senderId,omitempty"`
}

type africasTalkingResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Number     string `json:"number"`
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
			MessageID  string `json:"messageId"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// AfricasTalkingBackend delivers SMS through the Africa's Talking bulk
// messaging API.
type AfricasTalkingBackend struct {
	client  *resty.Client
	cfg     AfricasTalkingConfig
	baseURL string
}

func NewAfricasTalkingBackend(cfg AfricasTalkingConfig, opts HTTPOptions) (*AfricasTalkingBackend, error) {
	if err := requireFields(NameAfricasTalking, map[string]string{"api key": cfg.APIKey, "username": cfg.Username}); err != nil {
		return nil, err
	}
	return &AfricasTalkingBackend{
		client:  newRestyClient(opts),
		cfg:     cfg,
		baseURL: baseURLOr(opts, africasTalkingDefaultBase),
	}, nil
}

func (b *AfricasTalkingBackend) Name() string { return NameAfricasTalking }

func (b *AfricasTalkingBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	var result africasTalkingResponse
	response, err := b.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("apiKey", b.cfg.APIKey).
		SetBody(africasTalkingRequest{
			Username:     b.cfg.Username,
			Message:      smsText(content.Text, content.HTML),
			PhoneNumbers: []string{"+" + NormalizePhone(destination)},
			SenderID:     b.cfg.From,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("%s/version1/messaging/bulk", b.baseURL))

	resp, err := checkResponse(NameAfricasTalking, response, err)
	if err != nil {
		return nil, err
	}

	recipients := result.SMSMessageData.Recipients
	if len(recipients) == 0 {
		return nil, &ProviderError{
			Provider:   NameAfricasTalking,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("no recipients accepted: %s", strings.TrimSpace(result.SMSMessageData.Message)),
		}
	}

	r := recipients[0]
	// 100 Processed, 101 Sent, 102 Queued.
	if r.StatusCode < 100 || r.StatusCode > 102 {
		return nil, &ProviderError{
			Provider:   NameAfricasTalking,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("recipient status %d: %s", r.StatusCode, r.Status),
			Transient:  r.StatusCode >= 500,
		}
	}
	resp.MessageID = r.MessageID
	return resp, nil
}
