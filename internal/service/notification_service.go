package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/kursadbilgin/notification-relay/internal/observability"
	"github.com/kursadbilgin/notification-relay/internal/queue"
	"go.uber.org/zap"
)

const maxBatchSize = 1000

// NotificationService accepts notifications and publishes them to the
// channel work queues. Delivery happens in the worker.
type NotificationService struct {
	publisher queue.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// BatchItemStatus is the intake outcome of one batch entry.
type BatchItemStatus string

const (
	BatchItemQueued BatchItemStatus = "queued"
	BatchItemFailed BatchItemStatus = "failed"
)

type BatchItem struct {
	Index          int
	NotificationID string
	Channel        domain.Channel
	Status         BatchItemStatus
	Error          string
}

type BatchResult struct {
	BatchID string
	Total   int
	Queued  int
	Failed  int
	Items   []BatchItem
}

func NewNotificationService(publisher queue.Publisher, logger *zap.Logger) (*NotificationService, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create validates n, assigns its id and publishes it to the channel queue.
func (s *NotificationService) Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.prepare(ctx, n); err != nil {
		return nil, err
	}
	if err := s.publish(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// CreateBatch accepts each entry independently. Invalid entries and publish
// failures are reported per item and do not stop the rest of the batch.
func (s *NotificationService) CreateBatch(ctx context.Context, notifications []domain.Notification) (*BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(notifications) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one notification", domain.ErrValidation)
	}
	if len(notifications) > maxBatchSize {
		return nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchSize)
	}

	result := &BatchResult{
		BatchID: s.newID(),
		Total:   len(notifications),
		Items:   make([]BatchItem, 0, len(notifications)),
	}

	for i := range notifications {
		n := notifications[i]
		item := BatchItem{Index: i, Channel: n.Channel}

		err := s.prepare(ctx, &n)
		if err == nil {
			err = s.publish(ctx, &n)
		}
		item.NotificationID = n.ID

		if err != nil {
			item.Status = BatchItemFailed
			item.Error = err.Error()
			result.Failed++
		} else {
			item.Status = BatchItemQueued
			result.Queued++
		}
		result.Items = append(result.Items, item)
	}

	logger := observability.WithContextLogger(s.logger, ctx)
	if result.Failed > 0 {
		logger.Warn("batch accepted with failures",
			zap.String("batchId", result.BatchID),
			zap.Int("queued", result.Queued),
			zap.Int("failed", result.Failed),
			zap.Int("total", result.Total),
		)
	} else {
		logger.Info("batch accepted",
			zap.String("batchId", result.BatchID),
			zap.Int("total", result.Total),
		)
	}

	return result, nil
}

func (s *NotificationService) prepare(ctx context.Context, n *domain.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	n.UserID = strings.TrimSpace(n.UserID)
	n.Recipient = strings.TrimSpace(n.Recipient)
	n.Title = strings.TrimSpace(n.Title)
	n.Message = strings.TrimSpace(n.Message)

	n.CorrelationID = strings.TrimSpace(n.CorrelationID)
	if n.CorrelationID == "" {
		if cid, ok := observability.CorrelationIDFromContext(ctx); ok {
			n.CorrelationID = cid
		} else {
			n.CorrelationID = s.newID()
		}
	}

	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = s.newID()
	}
	if n.Priority == "" {
		n.Priority = domain.PriorityNormal
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}

	if err := n.Validate(); err != nil {
		return err
	}
	if _, err := n.ResolveRecipient(); err != nil {
		return err
	}
	return nil
}

func (s *NotificationService) publish(ctx context.Context, n *domain.Notification) error {
	queueName := queue.QueueName(n.Channel)
	if err := s.publisher.Publish(ctx, queueName, queue.MessageFromNotification(*n)); err != nil {
		observability.WithContextLogger(s.logger, ctx).Error("failed to publish notification",
			zap.String("notificationId", n.ID),
			zap.String("queue", queueName),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	s.metrics.IncNotificationAccepted(n.Channel.Key())
	return nil
}
