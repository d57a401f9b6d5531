package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/kursadbilgin/notification-relay/internal/observability"
	"github.com/kursadbilgin/notification-relay/internal/queue"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func expiredRecord() domain.RetryRecord {
	n := newTestNotification("n-1", domain.ChannelSMS)
	record := domain.NewRetryRecord(n, n.Recipient, domain.RenderedContent{Text: "hi"}, fixedNow)
	record.AttemptCount = 3
	record.FailureReason = "all 2 sms providers failed"
	return record
}

func TestDeadLetterReporterPublishesAndCounts(t *testing.T) {
	t.Parallel()

	var (
		gotChannel domain.Channel
		gotMsg     queue.DeadLetterMessage
	)
	publisher := &fakeDeadLetterPublisher{
		publishFn: func(_ context.Context, channel domain.Channel, msg queue.DeadLetterMessage) error {
			gotChannel = channel
			gotMsg = msg
			return nil
		},
	}
	core, logs := observer.New(zap.WarnLevel)
	metrics := observability.NewMetrics()

	reporter := NewDeadLetterReporter(publisher, metrics, zap.New(core))
	reporter.ReportExpired(context.Background(), ExpiredEvent{
		Record:    expiredRecord(),
		Age:       5*time.Minute + 4*time.Second,
		ExpiredAt: fixedNow.Add(5 * time.Minute),
	})

	if gotChannel != domain.ChannelSMS {
		t.Fatalf("channel = %q, want SMS", gotChannel)
	}
	if gotMsg.Record.NotificationID != "n-1" || gotMsg.Reason != "all 2 sms providers failed" {
		t.Fatalf("dead letter = %+v", gotMsg)
	}
	if !gotMsg.ExpiredAt.Equal(fixedNow.Add(5 * time.Minute)) {
		t.Fatalf("expiredAt = %v", gotMsg.ExpiredAt)
	}
	if v := metricValue(t, metrics, "notification_relay_retry_expired_total", map[string]string{"channel": "sms"}); v != 1 {
		t.Fatalf("retry_expired_total = %v, want 1", v)
	}

	entries := logs.FilterMessage("notification expired without successful delivery").All()
	if len(entries) != 1 {
		t.Fatalf("expiry log entries = %d, want 1", len(entries))
	}
	if entries[0].ContextMap()["attempts"] != int64(3) {
		t.Fatalf("attempts field = %v", entries[0].ContextMap()["attempts"])
	}
}

func TestDeadLetterReporterPublishFailureIsLogged(t *testing.T) {
	t.Parallel()

	publisher := &fakeDeadLetterPublisher{
		publishFn: func(context.Context, domain.Channel, queue.DeadLetterMessage) error {
			return errors.New("broker down")
		},
	}
	core, logs := observer.New(zap.ErrorLevel)

	reporter := NewDeadLetterReporter(publisher, nil, zap.New(core))
	reporter.ReportExpired(context.Background(), ExpiredEvent{Record: expiredRecord(), ExpiredAt: fixedNow})

	if logs.FilterMessage("failed to publish expired notification to dead-letter queue").Len() != 1 {
		t.Fatal("expected publish failure to be logged")
	}
}

func TestDeadLetterReporterWithoutPublisher(t *testing.T) {
	t.Parallel()

	reporter := NewDeadLetterReporter(nil, nil, nil)
	reporter.ReportExpired(context.Background(), ExpiredEvent{Record: expiredRecord(), ExpiredAt: fixedNow})
}
