package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/kursadbilgin/notification-relay/internal/service"
)

type NotificationService interface {
	Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	CreateBatch(ctx context.Context, notifications []domain.Notification) (*service.BatchResult, error)
}

type NotificationHandler struct {
	service  NotificationService
	validate *validator.Validate
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service, validate: newValidator()}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Post("/notifications/batch", h.CreateBatch)

	return nil
}

// createNotificationRequest accepts the channel as either "channel" or "type".
type createNotificationRequest struct {
	CorrelationID string         `json:"correlationId"`
	UserID        string         `json:"userId" validate:"required,max=255"`
	Channel       string         `json:"channel"`
	Type          string         `json:"type"`
	Priority      string         `json:"priority"`
	Recipient     string         `json:"recipient" validate:"max=320"`
	Title         string         `json:"title" validate:"required"`
	Message       string         `json:"message" validate:"required"`
	Metadata      map[string]any `json:"metadata"`
}

type createBatchRequest struct {
	Notifications []createNotificationRequest `json:"notifications" validate:"required,min=1,max=1000"`
}

type notificationResponse struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlationId"`
	UserID        string    `json:"userId"`
	Channel       string    `json:"channel"`
	Priority      string    `json:"priority"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

type batchItemResponse struct {
	Index          int    `json:"index"`
	NotificationID string `json:"notificationId,omitempty"`
	Channel        string `json:"channel,omitempty"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

type createBatchResponse struct {
	BatchID string              `json:"batchId"`
	Total   int                 `json:"total"`
	Queued  int                 `json:"queued"`
	Failed  int                 `json:"failed"`
	Items   []batchItemResponse `json:"items"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return toHTTPError(validationError(err))
	}

	notification, err := requestToDomainNotification(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(c.UserContext(), &notification)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(created))
}

// CreateBatch validates only the envelope; each entry is accepted or
// rejected on its own and reported in the response items.
func (h *NotificationHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return toHTTPError(validationError(err))
	}

	notifications := make([]domain.Notification, 0, len(req.Notifications))
	for _, item := range req.Notifications {
		// A conversion error leaves the raw value in place, so the service
		// rejects this entry alone.
		n, _ := requestToDomainNotification(item)
		notifications = append(notifications, n)
	}

	result, err := h.service.CreateBatch(c.UserContext(), notifications)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]batchItemResponse, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, batchItemResponse{
			Index:          item.Index,
			NotificationID: item.NotificationID,
			Channel:        item.Channel.Key(),
			Status:         string(item.Status),
			Error:          item.Error,
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(createBatchResponse{
		BatchID: result.BatchID,
		Total:   result.Total,
		Queued:  result.Queued,
		Failed:  result.Failed,
		Items:   items,
	})
}

func requestToDomainNotification(req createNotificationRequest) (domain.Notification, error) {
	n := domain.Notification{
		CorrelationID: strings.TrimSpace(req.CorrelationID),
		UserID:        strings.TrimSpace(req.UserID),
		Recipient:     strings.TrimSpace(req.Recipient),
		Title:         strings.TrimSpace(req.Title),
		Message:       strings.TrimSpace(req.Message),
		Metadata:      stringifyMetadata(req.Metadata),
	}

	rawChannel := firstNonEmpty(req.Channel, req.Type)
	channel, err := domain.ParseChannelFromString(rawChannel)
	if err != nil {
		n.Channel = domain.Channel(rawChannel)
		return n, err
	}
	n.Channel = channel

	priority, err := domain.ParsePriorityFromString(req.Priority)
	if err != nil {
		n.Priority = domain.Priority(req.Priority)
		return n, err
	}
	n.Priority = priority

	return n, nil
}

// stringifyMetadata flattens arbitrary JSON values to strings. Nested objects
// and arrays are kept as their JSON encoding.
func stringifyMetadata(raw map[string]any) map[string]string {
	if len(raw) == 0 {
		return nil
	}

	out := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			out[key] = v
		case bool:
			out[key] = strconv.FormatBool(v)
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				out[key] = fmt.Sprint(v)
				continue
			}
			out[key] = string(encoded)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:            n.ID,
		CorrelationID: n.CorrelationID,
		UserID:        n.UserID,
		Channel:       n.Channel.Key(),
		Priority:      n.Priority.String(),
		Status:        string(service.BatchItemQueued),
		CreatedAt:     n.CreatedAt,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator field errors into a single ErrValidation.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, "; "))
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
