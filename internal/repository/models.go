package repository

import (
	"time"

	"github.com/kursadbilgin/notification-relay/internal/domain"
)

// DeliveryAttemptModel is the persistence model for the delivery_attempts audit table.
type DeliveryAttemptModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	NotificationID string                `gorm:"type:varchar(64);not null;index:idx_delivery_attempts_notification_id"`
	Channel        domain.Channel        `gorm:"type:varchar(10);not null"`
	Provider       string                `gorm:"type:varchar(32);not null"`
	AttemptIndex   int                   `gorm:"not null"`
	ChainSize      int                   `gorm:"not null"`
	Outcome        domain.AttemptOutcome `gorm:"type:varchar(16);not null"`
	Source         domain.AttemptSource  `gorm:"type:varchar(16);not null"`
	Error          *string               `gorm:"type:text"`
	DurationMillis int64                 `gorm:"not null;default:0"`
	CreatedAt      time.Time             `gorm:"not null"`
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

// TemplateModel is the persistence model for the templates table.
type TemplateModel struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	Name      string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_templates_name_channel"`
	Channel   domain.Channel `gorm:"type:varchar(10);not null;uniqueIndex:idx_templates_name_channel"`
	Subject   string         `gorm:"type:varchar(255)"`
	Body      string         `gorm:"type:text;not null"`
	IsDefault bool           `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TemplateModel) TableName() string {
	return "templates"
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:             a.ID,
		NotificationID: a.NotificationID,
		Channel:        a.Channel,
		Provider:       a.Provider,
		AttemptIndex:   a.AttemptIndex,
		ChainSize:      a.ChainSize,
		Outcome:        a.Outcome,
		Source:         a.Source,
		Error:          a.Error,
		DurationMillis: a.DurationMillis,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		Channel:        m.Channel,
		Provider:       m.Provider,
		AttemptIndex:   m.AttemptIndex,
		ChainSize:      m.ChainSize,
		Outcome:        m.Outcome,
		Source:         m.Source,
		Error:          m.Error,
		DurationMillis: m.DurationMillis,
		CreatedAt:      m.CreatedAt,
	}
}

func templateModelFromDomain(t *domain.Template) *TemplateModel {
	if t == nil {
		return nil
	}

	return &TemplateModel{
		ID:        t.ID,
		Name:      t.Name,
		Channel:   t.Channel,
		Subject:   t.Subject,
		Body:      t.Body,
		IsDefault: t.IsDefault,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func templateModelToDomain(m *TemplateModel) *domain.Template {
	if m == nil {
		return nil
	}

	return &domain.Template{
		ID:        m.ID,
		Name:      m.Name,
		Channel:   m.Channel,
		Subject:   m.Subject,
		Body:      m.Body,
		IsDefault: m.IsDefault,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
