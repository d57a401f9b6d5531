package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/kursadbilgin/notification-relay/internal/observability"
	"github.com/kursadbilgin/notification-relay/internal/queue"
	"github.com/kursadbilgin/notification-relay/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// Dispatcher performs first delivery of a notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n domain.Notification) (*DispatchResult, error)
}

// WorkerService consumes the channel queues and dispatches each message.
type WorkerService struct {
	consumer    queue.Consumer
	dispatcher  Dispatcher
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewWorkerService(
	consumer queue.Consumer,
	dispatcher Dispatcher,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		dispatcher:  dispatcher,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes channel queues and processes notification messages until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	// At least one consumer per queue so no channel is starved.
	workers := s.concurrency
	if workers < len(queueNames) {
		workers = len(queueNames)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns nil to ack, an error wrapping queue.ErrDeadLetter to
// reject without requeue, and any other error to requeue.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.NotificationMessage) error {
	if err := msg.Validate(); err != nil {
		s.logger.Warn("dropping invalid notification message",
			zap.String("notificationId", msg.NotificationID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: invalid message: %v", queue.ErrDeadLetter, err)
	}

	n := msg.Notification()
	channelName := n.Channel.Key()
	s.metrics.IncWorkerInFlight(channelName)
	defer s.metrics.DecWorkerInFlight(channelName)

	if n.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, n.CorrelationID)
	}
	logger := observability.NotificationLogger(s.logger, ctx, n.ID, channelName)

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, n.Channel); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	result, err := s.dispatcher.Dispatch(ctx, n)
	switch {
	case err == nil:
		logger.Debug("notification dispatched",
			zap.String("outcome", string(result.Outcome)),
			zap.String("provider", result.Provider),
		)
		return nil
	case errors.Is(err, domain.ErrValidation):
		logger.Warn("rejecting invalid notification", zap.Error(err))
		return fmt.Errorf("%w: %w", queue.ErrDeadLetter, err)
	case errors.Is(err, domain.ErrNotificationLost):
		return fmt.Errorf("%w: %w", queue.ErrDeadLetter, err)
	default:
		return fmt.Errorf("failed to dispatch notification: %w", err)
	}
}
