package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-relay/internal/domain"
)

// NotificationMessage is the broker payload for one accepted notification.
// It carries the whole notification; there is no notification table.
type NotificationMessage struct {
	NotificationID string            `json:"notificationId"`
	CorrelationID  string            `json:"correlationId,omitempty"`
	UserID         string            `json:"userId"`
	Channel        domain.Channel    `json:"channel"`
	Priority       domain.Priority   `json:"priority"`
	Recipient      string            `json:"recipient,omitempty"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

func MessageFromNotification(n domain.Notification) NotificationMessage {
	return NotificationMessage{
		NotificationID: n.ID,
		CorrelationID:  n.CorrelationID,
		UserID:         n.UserID,
		Channel:        n.Channel,
		Priority:       n.Priority,
		Recipient:      n.Recipient,
		Title:          n.Title,
		Message:        n.Message,
		Metadata:       n.Metadata,
		CreatedAt:      n.CreatedAt,
	}
}

func (m NotificationMessage) Notification() domain.Notification {
	return domain.Notification{
		ID:            m.NotificationID,
		CorrelationID: m.CorrelationID,
		UserID:        m.UserID,
		Channel:       m.Channel,
		Priority:      m.Priority,
		Recipient:     m.Recipient,
		Title:         m.Title,
		Message:       m.Message,
		Metadata:      m.Metadata,
		CreatedAt:     m.CreatedAt,
	}
}

func (m NotificationMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	return nil
}

// DeadLetterMessage is published to dlq.<channel> when a retry record ages
// out without a successful delivery.
type DeadLetterMessage struct {
	Record    domain.RetryRecord `json:"record"`
	Reason    string             `json:"reason"`
	ExpiredAt time.Time          `json:"expiredAt"`
}
