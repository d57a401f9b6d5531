package domain

import (
	"fmt"
	"strings"
	"time"
)

// Channel represents the delivery channel.
type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelEmail Channel = "EMAIL"
	ChannelPush  Channel = "PUSH"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush}

func (c Channel) String() string { return string(c) }

// Key returns the lower-case channel name used for queues, metrics and config.
func (c Channel) Key() string { return strings.ToLower(string(c)) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelPush:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	if strings.TrimSpace(s) == "" {
		return PriorityNormal, nil
	}
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// Content limits per channel (in characters).
const (
	MaxSMSContent   = 160
	MaxPushContent  = 240
	MaxEmailContent = 10000
	MaxTitleLength  = 255
)

// Metadata keys consulted when no explicit recipient is supplied.
const (
	MetadataEmail     = "email"
	MetadataPhone     = "phone"
	MetadataPushToken = "pushToken"
	MetadataTemplate  = "template"
)

// Notification is an inbound request to deliver one message to one user.
type Notification struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlationId,omitempty"`
	UserID        string            `json:"userId"`
	Channel       Channel           `json:"channel"`
	Priority      Priority          `json:"priority"`
	Recipient     string            `json:"recipient,omitempty"`
	Title         string            `json:"title"`
	Message       string            `json:"message"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	if titleLen := len([]rune(n.Title)); titleLen > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters (got %d)", ErrValidation, MaxTitleLength, titleLen)
	}

	contentLen := len([]rune(n.Message))
	switch n.Channel {
	case ChannelSMS:
		if contentLen > MaxSMSContent {
			return fmt.Errorf("%w: SMS content exceeds %d characters (got %d)", ErrValidation, MaxSMSContent, contentLen)
		}
	case ChannelPush:
		if contentLen > MaxPushContent {
			return fmt.Errorf("%w: push content exceeds %d characters (got %d)", ErrValidation, MaxPushContent, contentLen)
		}
	case ChannelEmail:
		if contentLen > MaxEmailContent {
			return fmt.Errorf("%w: email content exceeds %d characters (got %d)", ErrValidation, MaxEmailContent, contentLen)
		}
	}

	return nil
}

// ResolveRecipient returns the destination address for the notification's
// channel: the explicit recipient when set, otherwise the channel-specific
// metadata entry.
func (n *Notification) ResolveRecipient() (string, error) {
	if r := strings.TrimSpace(n.Recipient); r != "" {
		return r, nil
	}

	var key string
	switch n.Channel {
	case ChannelEmail:
		key = MetadataEmail
	case ChannelSMS:
		key = MetadataPhone
	case ChannelPush:
		key = MetadataPushToken
	default:
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}

	if r := strings.TrimSpace(n.Metadata[key]); r != "" {
		return r, nil
	}
	return "", fmt.Errorf("%w: no recipient for %s notification (set recipient or metadata.%s)", ErrValidation, n.Channel.Key(), key)
}

// PushPayload is the JSON body delivered to push backends.
type PushPayload struct {
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Badge   *int              `json:"badge,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

// RenderedContent is the channel-ready form of a notification. It is produced
// once and stored verbatim for redelivery.
type RenderedContent struct {
	Subject string       `json:"subject,omitempty"`
	HTML    string       `json:"html,omitempty"`
	Text    string       `json:"text,omitempty"`
	Push    *PushPayload `json:"push,omitempty"`
}
