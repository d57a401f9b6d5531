package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/wneessen/go-mail"
)

const (
	NameSMTP  = "smtp"
	NameGmail = "gmail"

	gmailHost = "smtp.gmail.com"
	gmailPort = 587
)

// MailSender is the part of *mail.Client used by SMTPBackend.
type MailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPBackend delivers email over SMTP. Gmail is the same backend pointed at
// Google's submission server with an app password.
type SMTPBackend struct {
	name   string
	sender MailSender
	from   string
	domain string
}

func NewSMTPBackend(cfg SMTPConfig) (*SMTPBackend, error) {
	if err := requireFields(NameSMTP, map[string]string{
		"host":     cfg.Host,
		"username": cfg.Username,
		"password": cfg.Password,
		"from":     cfg.From,
	}); err != nil {
		return nil, err
	}

	client, err := newMailClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewSMTPBackendWithSender(NameSMTP, client, cfg.From)
}

// NewGmailBackend authenticates as from with a Google app password.
func NewGmailBackend(from, appPassword string, timeout time.Duration) (*SMTPBackend, error) {
	if err := requireFields(NameGmail, map[string]string{"from": from, "app password": appPassword}); err != nil {
		return nil, err
	}

	client, err := newMailClient(SMTPConfig{
		Host:     gmailHost,
		Port:     gmailPort,
		Username: from,
		Password: appPassword,
		From:     from,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, err
	}
	return NewSMTPBackendWithSender(NameGmail, client, from)
}

func NewSMTPBackendWithSender(name string, sender MailSender, from string) (*SMTPBackend, error) {
	if sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("%w: %s missing from", ErrNotConfigured, name)
	}

	domainPart := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domainPart = strings.Trim(from[at+1:], "> ")
	}

	return &SMTPBackend{
		name:   name,
		sender: sender,
		from:   from,
		domain: domainPart,
	}, nil
}

func newMailClient(cfg SMTPConfig) (*mail.Client, error) {
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	opts := []mail.Option{
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTimeout(timeout),
	}
	if port == 465 {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	opts = append(opts, mail.WithPort(port))

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return client, nil
}

func (b *SMTPBackend) Name() string { return b.name }

func (b *SMTPBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	msg := mail.NewMsg()
	if err := msg.From(b.from); err != nil {
		return nil, &ProviderError{Provider: b.name, Message: "invalid from address", Cause: err}
	}
	if err := msg.To(destination); err != nil {
		return nil, &ProviderError{Provider: b.name, Message: "invalid destination address", Cause: err}
	}

	text, html := emailBodies(content)
	msg.Subject(content.Subject)
	msg.SetBodyString(mail.TypeTextPlain, text)
	if html != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, html)
	}

	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), b.domain)
	msg.SetMessageIDWithValue(messageID)

	if err := b.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return nil, &ProviderError{
			Provider:  b.name,
			Message:   "smtp delivery failed",
			Transient: isTransientSMTPError(err),
			Cause:     err,
		}
	}

	return &ProviderResponse{StatusCode: 250, MessageID: messageID}, nil
}

func isTransientSMTPError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}
	return true
}
