package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-relay/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TemplateRepository looks up stored message templates.
type TemplateRepository interface {
	GetByName(ctx context.Context, name string, channel domain.Channel) (*domain.Template, error)
	GetDefault(ctx context.Context, channel domain.Channel) (*domain.Template, error)
	Save(ctx context.Context, t *domain.Template) error
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) GetByName(ctx context.Context, name string, channel domain.Channel) (*domain.Template, error) {
	var model TemplateModel
	err := r.db.WithContext(ctx).
		Where("name = ? AND channel = ?", strings.TrimSpace(name), channel).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model), nil
}

func (r *GormTemplateRepo) GetDefault(ctx context.Context, channel domain.Channel) (*domain.Template, error) {
	var model TemplateModel
	err := r.db.WithContext(ctx).
		Where("channel = ? AND is_default = ?", channel, true).
		Order("updated_at DESC").
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model), nil
}

// Save inserts the template or replaces the one with the same name and channel.
func (r *GormTemplateRepo) Save(ctx context.Context, t *domain.Template) error {
	if t == nil {
		return domain.ErrValidation
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	model := templateModelFromDomain(t)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}, {Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{"subject", "body", "is_default", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	*t = *templateModelToDomain(model)
	return nil
}
