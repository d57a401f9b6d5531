package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/kursadbilgin/notification-relay/internal/observability"
	"go.uber.org/zap"
)

const defaultRetryPutTimeout = 5 * time.Second

// Renderer turns a notification into channel-ready content.
type Renderer interface {
	Render(ctx context.Context, n domain.Notification) (domain.RenderedContent, error)
}

// Deliverer sends rendered content through a channel's provider chain.
type Deliverer interface {
	Deliver(
		ctx context.Context,
		channel domain.Channel,
		destination string,
		content domain.RenderedContent,
		opts ...DeliverOption,
	) (*DeliveryResult, error)
}

// RetryWriter persists notifications whose first delivery failed.
type RetryWriter interface {
	Put(ctx context.Context, record domain.RetryRecord, failureReason string) error
}

// DispatchOutcome is what happened to a dispatched notification.
type DispatchOutcome string

const (
	OutcomeDelivered      DispatchOutcome = "delivered"
	OutcomeQueuedForRetry DispatchOutcome = "queued_for_retry"
)

type DispatchResult struct {
	Outcome  DispatchOutcome
	Provider string
	Mock     bool
	Attempts int
}

// DispatchService performs the first delivery of a notification and hands
// it to the retry store when the whole chain fails.
type DispatchService struct {
	renderer   Renderer
	deliverer  Deliverer
	retries    RetryWriter
	metrics    *observability.Metrics
	logger     *zap.Logger
	putTimeout time.Duration
	now        func() time.Time
}

func NewDispatchService(
	renderer Renderer,
	deliverer Deliverer,
	retries RetryWriter,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*DispatchService, error) {
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if retries == nil {
		return nil, fmt.Errorf("retry store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		renderer:   renderer,
		deliverer:  deliverer,
		retries:    retries,
		metrics:    metrics,
		logger:     logger,
		putTimeout: defaultRetryPutTimeout,
		now:        time.Now,
	}, nil
}

// Dispatch renders and delivers n. A chain failure is not an error: the
// notification is queued for retry and OutcomeQueuedForRetry is returned.
// If the retry record cannot be written the error wraps domain.ErrNotificationLost.
func (s *DispatchService) Dispatch(ctx context.Context, n domain.Notification) (*DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	recipient, err := n.ResolveRecipient()
	if err != nil {
		return nil, err
	}

	logger := observability.NotificationLogger(s.logger, ctx, n.ID, n.Channel.Key())

	content, err := s.renderer.Render(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to render notification: %w", err)
	}

	result, err := s.deliverer.Deliver(ctx, n.Channel, recipient, content,
		WithNotificationID(n.ID),
		WithSource(domain.SourceIntake),
	)
	if err == nil {
		s.metrics.IncNotificationDelivered(n.Channel.Key(), string(domain.SourceIntake))
		return &DispatchResult{
			Outcome:  OutcomeDelivered,
			Provider: result.Provider,
			Mock:     result.Mock,
			Attempts: result.Attempts,
		}, nil
	}

	var exhausted *ChainExhaustedError
	if !errors.As(err, &exhausted) {
		return nil, err
	}
	s.metrics.IncChainExhausted(n.Channel.Key())

	record := domain.NewRetryRecord(n, recipient, content, s.now())

	// The record must be written even if the consumer is shutting down.
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.putTimeout)
	defer cancel()
	if putErr := s.retries.Put(putCtx, record, exhausted.Error()); putErr != nil {
		s.metrics.IncNotificationLost(n.Channel.Key())
		logger.Error("delivery failed and retry could not be queued",
			zap.String("deliveryError", exhausted.Error()),
			zap.Error(putErr),
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrNotificationLost, putErr)
	}

	s.metrics.IncRetryQueued(n.Channel.Key())
	logger.Warn("delivery failed, queued for retry",
		zap.Strings("attempted", exhausted.Attempted),
		zap.Error(exhausted.LastErr),
	)

	return &DispatchResult{Outcome: OutcomeQueuedForRetry, Attempts: len(exhausted.Attempted)}, nil
}
