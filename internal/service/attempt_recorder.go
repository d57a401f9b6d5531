package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/kursadbilgin/notification-relay/internal/observability"
	"github.com/kursadbilgin/notification-relay/internal/repository"
	"go.uber.org/zap"
)

const auditWriteTimeout = 3 * time.Second

// AttemptRecorder turns attempt events into metrics, debug logs and, when an
// attempt repository is configured, delivery_attempts audit rows.
type AttemptRecorder struct {
	attempts repository.AttemptRepository
	metrics  *observability.Metrics
	logger   *zap.Logger
	newID    func() string
}

func NewAttemptRecorder(
	attempts repository.AttemptRepository,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *AttemptRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AttemptRecorder{
		attempts: attempts,
		metrics:  metrics,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

func (r *AttemptRecorder) ObserveAttempt(ctx context.Context, ev AttemptEvent) {
	r.metrics.ObserveProviderAttempt(ev.Channel.Key(), ev.Provider, string(ev.Outcome), ev.Duration)

	r.logger.Debug("provider attempt",
		zap.String("notificationId", ev.NotificationID),
		zap.String("channel", ev.Channel.Key()),
		zap.String("provider", ev.Provider),
		zap.Int("index", ev.Index),
		zap.Int("chainSize", ev.ChainSize),
		zap.String("outcome", string(ev.Outcome)),
		zap.String("source", string(ev.Source)),
		zap.Duration("duration", ev.Duration),
		zap.Error(ev.Err),
	)

	if r.attempts == nil || ev.NotificationID == "" {
		return
	}

	attempt := r.toAttempt(ev)

	// The audit row must be written even when the delivery context is
	// already cancelled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := r.attempts.Create(writeCtx, attempt); err != nil {
		r.logger.Warn("failed to record delivery attempt",
			zap.String("notificationId", ev.NotificationID),
			zap.String("provider", ev.Provider),
			zap.Error(err),
		)
	}
}

func (r *AttemptRecorder) toAttempt(ev AttemptEvent) *domain.DeliveryAttempt {
	var attemptErr *string
	if ev.Err != nil {
		value := ev.Err.Error()
		attemptErr = &value
	}

	createdAt := ev.At
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return &domain.DeliveryAttempt{
		ID:             r.newID(),
		NotificationID: ev.NotificationID,
		Channel:        ev.Channel,
		Provider:       ev.Provider,
		AttemptIndex:   ev.Index,
		ChainSize:      ev.ChainSize,
		Outcome:        ev.Outcome,
		Source:         ev.Source,
		Error:          attemptErr,
		DurationMillis: ev.Duration.Milliseconds(),
		CreatedAt:      createdAt.UTC(),
	}
}
