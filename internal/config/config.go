package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/kursadbilgin/notification-relay/internal/provider"
)

type Config struct {
	RedisURL          string `env:"REDIS_URL,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	DatabaseDSN       string `env:"DATABASE_DSN"`
	APIPort           int    `env:"API_PORT,default=8080"`
	MetricsPort       int    `env:"METRICS_PORT,default=9090"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=6"`
	QueuePrefetch     int    `env:"QUEUE_PREFETCH,default=10"`

	RateLimitPerSec      int `env:"RATE_LIMIT_PER_SEC,default=100"`
	EmailRateLimitPerSec int `env:"EMAIL_RATE_LIMIT_PER_SEC,default=0"`
	SMSRateLimitPerSec   int `env:"SMS_RATE_LIMIT_PER_SEC,default=0"`
	PushRateLimitPerSec  int `env:"PUSH_RATE_LIMIT_PER_SEC,default=0"`

	RetryTTLSec          int `env:"RETRY_TTL_SEC,default=300"`
	RetryExpiryGraceSec  int `env:"RETRY_EXPIRY_GRACE_SEC,default=30"`
	RetryFirstMarkSec    int `env:"RETRY_FIRST_MARK_SEC,default=120"`
	RetrySecondMarkSec   int `env:"RETRY_SECOND_MARK_SEC,default=240"`
	RetryBandWidthSec    int `env:"RETRY_BAND_WIDTH_SEC,default=60"`
	RetryScanIntervalSec int `env:"RETRY_SCAN_INTERVAL_SEC,default=10"`

	ProviderTimeoutSec      int     `env:"PROVIDER_TIMEOUT_SEC,default=10"`
	ProviderRateLimitPerSec float64 `env:"PROVIDER_RATE_LIMIT_PER_SEC,default=0"`
	BreakerEnabled          bool    `env:"PROVIDER_BREAKER_ENABLED,default=true"`
	BreakerFailures         int     `env:"PROVIDER_BREAKER_FAILURES,default=5"`
	BreakerOpenSec          int     `env:"PROVIDER_BREAKER_OPEN_SEC,default=30"`
	BreakerIntervalSec      int     `env:"PROVIDER_BREAKER_INTERVAL_SEC,default=60"`

	EmailProvider          string `env:"EMAIL_PROVIDER"`
	EmailFallbackProviders string `env:"EMAIL_FALLBACK_PROVIDERS"`
	SMSProvider            string `env:"SMS_PROVIDER"`
	SMSFallbackProviders   string `env:"SMS_FALLBACK_PROVIDERS"`
	PushProvider           string `env:"PUSH_PROVIDER"`
	PushFallbackProviders  string `env:"PUSH_FALLBACK_PROVIDERS"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	GmailFrom        string `env:"GMAIL_FROM"`
	GmailAppPassword string `env:"GMAIL_APP_PASSWORD"`

	SendGridAPIKey string `env:"SENDGRID_API_KEY"`
	SendGridFrom   string `env:"SENDGRID_FROM"`

	MailgunAPIKey string `env:"MAILGUN_API_KEY"`
	MailgunDomain string `env:"MAILGUN_DOMAIN"`
	MailgunFrom   string `env:"MAILGUN_FROM"`

	PostmarkServerToken string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkFrom        string `env:"POSTMARK_FROM"`

	AWSRegion          string `env:"AWS_REGION"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	SESFrom            string `env:"SES_FROM"`
	SESConfigSet       string `env:"SES_CONFIGURATION_SET"`
	SNSSenderID        string `env:"SNS_SENDER_ID"`
	SNSSMSType         string `env:"SNS_SMS_TYPE,default=Transactional"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `env:"TWILIO_FROM"`

	NexmoAPIKey    string `env:"NEXMO_API_KEY"`
	NexmoAPISecret string `env:"NEXMO_API_SECRET"`
	NexmoFrom      string `env:"NEXMO_FROM"`

	AfricasTalkingAPIKey   string `env:"AFRICASTALKING_API_KEY"`
	AfricasTalkingUsername string `env:"AFRICASTALKING_USERNAME"`
	AfricasTalkingFrom     string `env:"AFRICASTALKING_FROM"`

	ClickatellAPIKey string `env:"CLICKATELL_API_KEY"`

	HTTPSMSURL       string `env:"HTTP_SMS_URL"`
	HTTPSMSAPIKey    string `env:"HTTP_SMS_API_KEY"`
	HTTPSMSPartnerID string `env:"HTTP_SMS_PARTNER_ID"`
	HTTPSMSShortcode string `env:"HTTP_SMS_SHORTCODE"`
	HTTPSMSPassType  string `env:"HTTP_SMS_PASS_TYPE,default=plain"`

	PushWebhookURL   string `env:"PUSH_WEBHOOK_URL"`
	PushWebhookToken string `env:"PUSH_WEBHOOK_TOKEN"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.RetryPolicy().Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// RetryPolicy converts the RETRY_* settings into a domain policy.
func (c *Config) RetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		Retention:    seconds(c.RetryTTLSec),
		ExpiryGrace:  seconds(c.RetryExpiryGraceSec),
		FirstMark:    seconds(c.RetryFirstMarkSec),
		SecondMark:   seconds(c.RetrySecondMarkSec),
		BandWidth:    seconds(c.RetryBandWidthSec),
		ScanInterval: seconds(c.RetryScanIntervalSec),
	}
}

func (c *Config) ProviderTimeout() time.Duration {
	return seconds(c.ProviderTimeoutSec)
}

// ChannelRateLimits returns the per-channel overrides; zero entries fall back
// to RATE_LIMIT_PER_SEC.
func (c *Config) ChannelRateLimits() map[domain.Channel]int {
	return map[domain.Channel]int{
		domain.ChannelEmail: c.EmailRateLimitPerSec,
		domain.ChannelSMS:   c.SMSRateLimitPerSec,
		domain.ChannelPush:  c.PushRateLimitPerSec,
	}
}

// ChainConfigs returns the requested provider order for every channel.
func (c *Config) ChainConfigs() []provider.ChainConfig {
	return []provider.ChainConfig{
		{Channel: domain.ChannelEmail, Primary: c.EmailProvider, Fallbacks: provider.ParseProviderList(c.EmailFallbackProviders)},
		{Channel: domain.ChannelSMS, Primary: c.SMSProvider, Fallbacks: provider.ParseProviderList(c.SMSFallbackProviders)},
		{Channel: domain.ChannelPush, Primary: c.PushProvider, Fallbacks: provider.ParseProviderList(c.PushFallbackProviders)},
	}
}

func (c *Config) RegistryConfig() provider.RegistryConfig {
	cfg := provider.RegistryConfig{
		HTTP: provider.HTTPOptions{
			Timeout:         c.ProviderTimeout(),
			RateLimitPerSec: c.ProviderRateLimitPerSec,
		},
		SMTP: provider.SMTPConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.SMTPUsername,
			Password: c.SMTPPassword,
			From:     c.SMTPFrom,
			Timeout:  c.ProviderTimeout(),
		},
		Gmail:    provider.GmailConfig{From: c.GmailFrom, AppPassword: c.GmailAppPassword},
		SendGrid: provider.SendGridConfig{APIKey: c.SendGridAPIKey, From: c.SendGridFrom},
		Mailgun:  provider.MailgunConfig{APIKey: c.MailgunAPIKey, Domain: c.MailgunDomain, From: c.MailgunFrom},
		Postmark: provider.PostmarkConfig{ServerToken: c.PostmarkServerToken, From: c.PostmarkFrom},
		AWS: provider.AWSConfig{
			Region:          c.AWSRegion,
			AccessKeyID:     c.AWSAccessKeyID,
			SecretAccessKey: c.AWSSecretAccessKey,
		},
		SES:            provider.SESConfig{From: c.SESFrom, ConfigSetName: c.SESConfigSet},
		SNS:            provider.SNSConfig{SenderID: c.SNSSenderID, SMSType: c.SNSSMSType},
		Twilio:         provider.TwilioConfig{AccountSID: c.TwilioAccountSID, AuthToken: c.TwilioAuthToken, From: c.TwilioFrom},
		Nexmo:          provider.NexmoConfig{APIKey: c.NexmoAPIKey, APISecret: c.NexmoAPISecret, From: c.NexmoFrom},
		AfricasTalking: provider.AfricasTalkingConfig{APIKey: c.AfricasTalkingAPIKey, Username: c.AfricasTalkingUsername, From: c.AfricasTalkingFrom},
		Clickatell:     provider.ClickatellConfig{APIKey: c.ClickatellAPIKey},
		HTTPSMS: provider.HTTPSMSConfig{
			URL:       c.HTTPSMSURL,
			APIKey:    c.HTTPSMSAPIKey,
			PartnerID: c.HTTPSMSPartnerID,
			Shortcode: c.HTTPSMSShortcode,
			PassType:  c.HTTPSMSPassType,
		},
		Webhook: provider.WebhookConfig{Endpoint: c.PushWebhookURL, AuthToken: c.PushWebhookToken},
	}

	if c.BreakerEnabled {
		breaker := provider.DefaultBreakerSettings()
		if c.BreakerFailures > 0 {
			breaker.ConsecutiveFailures = uint32(c.BreakerFailures)
		}
		if c.BreakerOpenSec > 0 {
			breaker.OpenTimeout = seconds(c.BreakerOpenSec)
		}
		if c.BreakerIntervalSec > 0 {
			breaker.Interval = seconds(c.BreakerIntervalSec)
		}
		cfg.Breaker = &breaker
	}
	return cfg
}
