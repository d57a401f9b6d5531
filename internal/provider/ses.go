package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

const NameSES = "ses"

// SESAPI is the subset of the SES v2 client used by SESBackend.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESConfig struct {
	From          string
	ConfigSetName string
}

// SESBackend delivers email through AWS SES v2.
type SESBackend struct {
	api SESAPI
	cfg SESConfig
}

func NewSESBackend(awsCfg aws.Config, cfg SESConfig) (*SESBackend, error) {
	return NewSESBackendWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

func NewSESBackendWithAPI(api SESAPI, cfg SESConfig) (*SESBackend, error) {
	if api == nil {
		return nil, fmt.Errorf("ses api is required")
	}
	if err := requireFields(NameSES, map[string]string{"from": cfg.From}); err != nil {
		return nil, err
	}
	return &SESBackend{api: api, cfg: cfg}, nil
}

func (b *SESBackend) Name() string { return NameSES }

func (b *SESBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	text, html := emailBodies(content)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(b.cfg.From),
		Destination: &sestypes.Destination{
			ToAddresses: []string{destination},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{
					Data:    aws.String(content.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &sestypes.Body{
					Text: &sestypes.Content{
						Data:    aws.String(text),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
	if html != "" {
		input.Content.Simple.Body.Html = &sestypes.Content{
			Data:    aws.String(html),
			Charset: aws.String("UTF-8"),
		}
	}
	if b.cfg.ConfigSetName != "" {
		input.ConfigurationSetName = aws.String(b.cfg.ConfigSetName)
	}

	out, err := b.api.SendEmail(ctx, input)
	if err != nil {
		return nil, mapSESError(err)
	}

	resp := &ProviderResponse{StatusCode: 200}
	if out != nil && out.MessageId != nil {
		resp.MessageID = aws.ToString(out.MessageId)
	}
	return resp, nil
}

func mapSESError(err error) error {
	var msgRejected *sestypes.MessageRejected
	if errors.As(err, &msgRejected) {
		return &ProviderError{Provider: NameSES, Message: "message rejected", Cause: err}
	}

	var tooManyReqs *sestypes.TooManyRequestsException
	if errors.As(err, &tooManyReqs) {
		return &ProviderError{Provider: NameSES, StatusCode: 429, Message: "rate limit exceeded", Transient: true, Cause: err}
	}

	var sendingPaused *sestypes.SendingPausedException
	if errors.As(err, &sendingPaused) {
		return &ProviderError{Provider: NameSES, Message: "account sending paused", Transient: true, Cause: err}
	}

	return &ProviderError{
		Provider:  NameSES,
		Message:   "send email failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}
