package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

const NameHTTPSMS = "http"

type HTTPSMSConfig struct {
	URL       string
	APIKey    string
	PartnerID string
	Shortcode string
	PassType  string
}

// HTTPSMSBackend posts form-encoded messages to a generic bulk-SMS gateway.
type HTTPSMSBackend struct {
	client *resty.Client
	cfg    HTTPSMSConfig
}

func NewHTTPSMSBackend(cfg HTTPSMSConfig, opts HTTPOptions) (*HTTPSMSBackend, error) {
	if err := requireFields(NameHTTPSMS, map[string]string{"url": cfg.URL, "api key": cfg.APIKey}); err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.URL)); err != nil {
		return nil, &ProviderError{Provider: NameHTTPSMS, Message: "invalid gateway url", Cause: err}
	}
	if cfg.PassType == "" {
		cfg.PassType = "plain"
	}
	return &HTTPSMSBackend{client: newRestyClient(opts), cfg: cfg}, nil
}

func (b *HTTPSMSBackend) Name() string { return NameHTTPSMS }

func (b *HTTPSMSBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	message := smsText(content.Text, content.HTML)
	if len(message) < 3 {
		message += " - message"
	}

	response, err := b.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"apikey":    b.cfg.APIKey,
			"partnerID": b.cfg.PartnerID,
			"shortcode": b.cfg.Shortcode,
			"pass_type": b.cfg.PassType,
			"mobile":    NormalizePhone(destination),
			"message":   message,
		}).
		Post(strings.TrimSpace(b.cfg.URL))
	return checkResponse(NameHTTPSMS, response, err)
}
