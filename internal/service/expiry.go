package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/kursadbilgin/notification-relay/internal/observability"
	"github.com/kursadbilgin/notification-relay/internal/queue"
	"go.uber.org/zap"
)

const deadLetterPublishTimeout = 5 * time.Second

// ExpiredEvent reports a retry record that aged out without a successful delivery.
type ExpiredEvent struct {
	Record    domain.RetryRecord
	Age       time.Duration
	ExpiredAt time.Time
}

// ExpiryReporter is told exactly once about every expired record.
type ExpiryReporter interface {
	ReportExpired(ctx context.Context, ev ExpiredEvent)
}

// DeadLetterReporter counts, logs and dead-letters expired records. The
// publisher is optional.
type DeadLetterReporter struct {
	publisher queue.DeadLetterPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func NewDeadLetterReporter(
	publisher queue.DeadLetterPublisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *DeadLetterReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeadLetterReporter{publisher: publisher, metrics: metrics, logger: logger}
}

func (r *DeadLetterReporter) ReportExpired(ctx context.Context, ev ExpiredEvent) {
	record := ev.Record
	r.metrics.IncRetryExpired(record.Channel.Key())

	r.logger.Warn("notification expired without successful delivery",
		zap.String("notificationId", record.NotificationID),
		zap.String("correlationId", record.CorrelationID),
		zap.String("channel", record.Channel.Key()),
		zap.String("userId", record.UserID),
		zap.Int64("attempts", record.AttemptCount),
		zap.String("failureReason", record.FailureReason),
		zap.Duration("age", ev.Age),
	)

	if r.publisher == nil {
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterPublishTimeout)
	defer cancel()
	err := r.publisher.PublishDeadLetter(publishCtx, record.Channel, queue.DeadLetterMessage{
		Record:    record,
		Reason:    record.FailureReason,
		ExpiredAt: ev.ExpiredAt.UTC(),
	})
	if err != nil {
		r.logger.Error("failed to publish expired notification to dead-letter queue",
			zap.String("notificationId", record.NotificationID),
			zap.String("queue", queue.DLQName(record.Channel)),
			zap.Error(err),
		)
	}
}
