package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var canonicalOrder = map[domain.Channel][]string{
	domain.ChannelEmail: {NameSMTP, NameGmail, NameSendGrid, NameMailgun, NameSES, NamePostmark},
	domain.ChannelSMS:   {NameTwilio, NameSNS, NameNexmo, NameAfricasTalking, NameClickatell, NameHTTPSMS},
	domain.ChannelPush:  {NameWebhook},
}

// CanonicalOrder lists every provider known for channel, in registry order.
func CanonicalOrder(channel domain.Channel) []string {
	order := canonicalOrder[channel]
	out := make([]string, len(order))
	copy(out, order)
	return out
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type GmailConfig struct {
	From        string
	AppPassword string
}

type WebhookConfig struct {
	Endpoint  string
	AuthToken string
}

// RegistryConfig carries every provider's credentials. Providers with
// incomplete credentials are registered as unconfigured candidates.
type RegistryConfig struct {
	HTTP    HTTPOptions
	Breaker *BreakerSettings

	SMTP     SMTPConfig
	Gmail    GmailConfig
	SendGrid SendGridConfig
	Mailgun  MailgunConfig
	Postmark PostmarkConfig
	AWS      AWSConfig
	SES      SESConfig
	SNS      SNSConfig

	Twilio         TwilioConfig
	Nexmo          NexmoConfig
	AfricasTalking AfricasTalkingConfig
	Clickatell     ClickatellConfig
	HTTPSMS        HTTPSMSConfig

	Webhook WebhookConfig
}

// Registry holds the candidate backends for every channel.
type Registry struct {
	candidates map[domain.Channel]map[string]Candidate
	logger     *zap.Logger
}

func NewRegistry(ctx context.Context, cfg RegistryConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		candidates: make(map[domain.Channel]map[string]Candidate, len(domain.Channels)),
		logger:     logger,
	}
	for _, ch := range domain.Channels {
		r.candidates[ch] = make(map[string]Candidate)
	}

	httpOpts := cfg.HTTP
	timeout := httpOpts.Timeout

	r.register(cfg.Breaker, domain.ChannelEmail, NameSMTP, func() (Backend, error) {
		smtpCfg := cfg.SMTP
		if smtpCfg.Timeout <= 0 {
			smtpCfg.Timeout = timeout
		}
		return NewSMTPBackend(smtpCfg)
	})
	r.register(cfg.Breaker, domain.ChannelEmail, NameGmail, func() (Backend, error) {
		return NewGmailBackend(cfg.Gmail.From, cfg.Gmail.AppPassword, timeout)
	})
	r.register(cfg.Breaker, domain.ChannelEmail, NameSendGrid, func() (Backend, error) {
		return NewSendGridBackend(cfg.SendGrid, httpOpts)
	})
	r.register(cfg.Breaker, domain.ChannelEmail, NameMailgun, func() (Backend, error) {
		return NewMailgunBackend(cfg.Mailgun, httpOpts)
	})
	r.register(cfg.Breaker, domain.ChannelEmail, NameSES, func() (Backend, error) {
		if err := requireFields(NameSES, map[string]string{"from": cfg.SES.From}); err != nil {
			return nil, err
		}
		awsCfg, err := loadAWSConfig(ctx, NameSES, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return NewSESBackend(awsCfg, cfg.SES)
	})
	r.register(cfg.Breaker, domain.ChannelEmail, NamePostmark, func() (Backend, error) {
		return NewPostmarkBackend(cfg.Postmark, httpOpts)
	})

	r.register(cfg.Breaker, domain.ChannelSMS, NameTwilio, func() (Backend, error) {
		return NewTwilioBackend(cfg.Twilio, httpOpts)
	})
	r.register(cfg.Breaker, domain.ChannelSMS, NameSNS, func() (Backend, error) {
		awsCfg, err := loadAWSConfig(ctx, NameSNS, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return NewSNSBackend(awsCfg, cfg.SNS)
	})
	r.register(cfg.Breaker, domain.ChannelSMS, NameNexmo, func() (Backend, error) {
		return NewNexmoBackend(cfg.Nexmo, httpOpts)
	})
	r.register(cfg.Breaker, domain.ChannelSMS, NameAfricasTalking, func() (Backend, error) {
		return NewAfricasTalkingBackend(cfg.AfricasTalking, httpOpts)
	})
	r.register(cfg.Breaker, domain.ChannelSMS, NameClickatell, func() (Backend, error) {
		return NewClickatellBackend(cfg.Clickatell, httpOpts)
	})
	r.register(cfg.Breaker, domain.ChannelSMS, NameHTTPSMS, func() (Backend, error) {
		return NewHTTPSMSBackend(cfg.HTTPSMS, httpOpts)
	})

	r.register(cfg.Breaker, domain.ChannelPush, NameWebhook, func() (Backend, error) {
		return NewWebhookBackend(cfg.Webhook.Endpoint, cfg.Webhook.AuthToken, httpOpts)
	})

	return r
}

// NewRegistryFromCandidates builds a registry from prepared candidates.
func NewRegistryFromCandidates(candidates map[domain.Channel]map[string]Candidate, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		candidates: make(map[domain.Channel]map[string]Candidate, len(domain.Channels)),
		logger:     logger,
	}
	for _, ch := range domain.Channels {
		r.candidates[ch] = make(map[string]Candidate)
		for name, c := range candidates[ch] {
			r.candidates[ch][normalizeName(name)] = c
		}
	}
	return r
}

func (r *Registry) register(breaker *BreakerSettings, channel domain.Channel, name string, build func() (Backend, error)) {
	backend, err := build()
	if err != nil {
		r.candidates[channel][name] = Candidate{Err: err}
		return
	}
	if breaker != nil {
		settings := *breaker
		if settings.OnStateChange == nil {
			settings.OnStateChange = r.logStateChange
		}
		backend = WithBreaker(backend, settings)
	}
	r.candidates[channel][name] = Candidate{Backend: backend}
}

func (r *Registry) logStateChange(name string, from, to gobreaker.State) {
	r.logger.Warn("provider circuit breaker state changed",
		zap.String("provider", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// Candidates returns a copy of the candidates registered for channel.
func (r *Registry) Candidates(channel domain.Channel) map[string]Candidate {
	out := make(map[string]Candidate, len(r.candidates[channel]))
	for name, c := range r.candidates[channel] {
		out[name] = c
	}
	return out
}

// Chain builds the channel's chain and logs every requested provider that
// was left out.
func (r *Registry) Chain(cfg ChainConfig) Chain {
	chain := BuildChain(cfg, r.Candidates(cfg.Channel), CanonicalOrder(cfg.Channel))
	for _, s := range chain.Skipped() {
		r.logger.Warn("provider skipped from chain",
			zap.String("channel", cfg.Channel.Key()),
			zap.String("provider", s.Name),
			zap.String("reason", s.Reason),
		)
	}
	if chain.Empty() {
		r.logger.Warn("no configured provider for channel; deliveries will be mocked",
			zap.String("channel", cfg.Channel.Key()),
		)
	} else {
		r.logger.Info("provider chain built",
			zap.String("channel", cfg.Channel.Key()),
			zap.Strings("providers", chain.Names()),
		)
	}
	return chain
}

func loadAWSConfig(ctx context.Context, name string, cfg AWSConfig) (aws.Config, error) {
	if err := requireFields(name, map[string]string{
		"aws region":            cfg.Region,
		"aws access key id":     cfg.AccessKeyID,
		"aws secret access key": cfg.SecretAccessKey,
	}); err != nil {
		return aws.Config{}, err
	}

	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return awsCfg, nil
}
