package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

// AttemptReader reads the delivery attempt audit trail.
type AttemptReader interface {
	GetByNotificationID(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error)
}

// TemplateWriter stores message templates.
type TemplateWriter interface {
	Save(ctx context.Context, t *domain.Template) error
}

type AuditHandler struct {
	attempts  AttemptReader
	templates TemplateWriter
	validate  *validator.Validate
}

// RegisterAuditRoutes mounts the attempt history and template endpoints. They
// are only available when the relay runs with a database.
func RegisterAuditRoutes(router fiber.Router, attempts AttemptReader, templates TemplateWriter) error {
	if attempts == nil || templates == nil {
		return fmt.Errorf("attempt reader and template writer are required")
	}
	h := &AuditHandler{attempts: attempts, templates: templates, validate: newValidator()}

	v1 := router.Group("/v1")
	v1.Get("/notifications/:id/attempts", h.ListAttempts)
	v1.Put("/templates", h.SaveTemplate)
	return nil
}

type attemptResponse struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	AttemptIndex   int       `json:"attemptIndex"`
	ChainSize      int       `json:"chainSize"`
	Outcome        string    `json:"outcome"`
	Source         string    `json:"source"`
	Error          *string   `json:"error,omitempty"`
	DurationMillis int64     `json:"durationMs"`
	CreatedAt      time.Time `json:"createdAt"`
}

type saveTemplateRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	Channel   string `json:"channel" validate:"required"`
	Subject   string `json:"subject" validate:"max=255"`
	Body      string `json:"body" validate:"required"`
	IsDefault bool   `json:"isDefault"`
}

func (h *AuditHandler) ListAttempts(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	attempts, err := h.attempts.GetByNotificationID(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}
	if len(attempts) == 0 {
		return toHTTPError(fmt.Errorf("%w: no attempts recorded for notification %q", domain.ErrNotFound, id))
	}

	items := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		items = append(items, attemptResponse{
			ID:             a.ID,
			Provider:       a.Provider,
			AttemptIndex:   a.AttemptIndex,
			ChainSize:      a.ChainSize,
			Outcome:        string(a.Outcome),
			Source:         string(a.Source),
			Error:          a.Error,
			DurationMillis: a.DurationMillis,
			CreatedAt:      a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"attempts":       items,
	})
}

func (h *AuditHandler) SaveTemplate(c *fiber.Ctx) error {
	var req saveTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return toHTTPError(validationError(err))
	}

	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return toHTTPError(err)
	}

	tmpl := &domain.Template{
		Name:      strings.TrimSpace(req.Name),
		Channel:   channel,
		Subject:   strings.TrimSpace(req.Subject),
		Body:      req.Body,
		IsDefault: req.IsDefault,
	}
	if err := h.templates.Save(c.UserContext(), tmpl); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":        tmpl.ID,
		"name":      tmpl.Name,
		"channel":   tmpl.Channel.Key(),
		"isDefault": tmpl.IsDefault,
		"updatedAt": tmpl.UpdatedAt,
	})
}
