package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

const NameSNS = "sns"

// SNSAPI is the subset of the SNS client used by SNSBackend.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSConfig struct {
	SenderID string
	// SMSType is Transactional or Promotional; empty leaves the account default.
	SMSType string
}

// SNSBackend delivers SMS by publishing directly to a phone number.
type SNSBackend struct {
	api SNSAPI
	cfg SNSConfig
}

func NewSNSBackend(awsCfg aws.Config, cfg SNSConfig) (*SNSBackend, error) {
	return NewSNSBackendWithAPI(sns.NewFromConfig(awsCfg), cfg)
}

func NewSNSBackendWithAPI(api SNSAPI, cfg SNSConfig) (*SNSBackend, error) {
	if api == nil {
		return nil, fmt.Errorf("sns api is required")
	}
	return &SNSBackend{api: api, cfg: cfg}, nil
}

func (b *SNSBackend) Name() string { return NameSNS }

func (b *SNSBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	phone := strings.TrimSpace(destination)
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + NormalizePhone(phone)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(smsText(content.Text, content.HTML)),
	}

	attrs := map[string]snstypes.MessageAttributeValue{}
	if b.cfg.SenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(b.cfg.SenderID),
		}
	}
	if b.cfg.SMSType != "" {
		attrs["AWS.SNS.SMS.SMSType"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(b.cfg.SMSType),
		}
	}
	if len(attrs) > 0 {
		input.MessageAttributes = attrs
	}

	out, err := b.api.Publish(ctx, input)
	if err != nil {
		return nil, mapSNSError(err)
	}

	resp := &ProviderResponse{StatusCode: 200}
	if out != nil {
		resp.MessageID = aws.ToString(out.MessageId)
	}
	return resp, nil
}

func mapSNSError(err error) error {
	var invalidParam *snstypes.InvalidParameterException
	if errors.As(err, &invalidParam) {
		return &ProviderError{Provider: NameSNS, Message: "invalid parameter", Cause: err}
	}

	var throttled *snstypes.ThrottledException
	if errors.As(err, &throttled) {
		return &ProviderError{Provider: NameSNS, StatusCode: 429, Message: "throttled", Transient: true, Cause: err}
	}

	return &ProviderError{
		Provider:  NameSNS,
		Message:   "publish failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}
