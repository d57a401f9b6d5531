package provider

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

const (
	NameTwilio        = "twilio"
	twilioDefaultBase = "https://api.twilio.com"
)

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

type twilioResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// TwilioBackend delivers SMS through the Twilio Messages API.
type TwilioBackend struct {
	client  *resty.Client
	cfg     TwilioConfig
	baseURL string
}

func NewTwilioBackend(cfg TwilioConfig, opts HTTPOptions) (*TwilioBackend, error) {
	if err := requireFields(NameTwilio, map[string]string{
		"account sid": cfg.AccountSID,
		"auth token":  cfg.AuthToken,
		"from":        cfg.From,
	}); err != nil {
		return nil, err
	}
	return &TwilioBackend{
		client:  newRestyClient(opts),
		cfg:     cfg,
		baseURL: baseURLOr(opts, twilioDefaultBase),
	}, nil
}

func (b *TwilioBackend) Name() string { return NameTwilio }

func (b *TwilioBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	var result twilioResponse
	response, err := b.client.R().
		SetContext(ctx).
		SetBasicAuth(b.cfg.AccountSID, b.cfg.AuthToken).
		SetFormData(map[string]string{
			"To":   destination,
			"From": b.cfg.From,
			"Body": smsText(content.Text, content.HTML),
		}).
		SetResult(&result).
		Post(fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", b.baseURL, b.cfg.AccountSID))

	resp, err := checkResponse(NameTwilio, response, err)
	if err != nil {
		return nil, err
	}
	resp.MessageID = result.SID
	return resp, nil
}
