package service

import (
	"context"
	"sync"
	"testing"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/kursadbilgin/notification-relay/internal/observability"
	"github.com/kursadbilgin/notification-relay/internal/provider"
	"github.com/kursadbilgin/notification-relay/internal/queue"
	"github.com/kursadbilgin/notification-relay/internal/ratelimit"
)

type fakeBackend struct {
	name   string
	sendFn func(ctx context.Context, destination string, content domain.RenderedContent) (*provider.ProviderResponse, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, destination, content)
	}
	return &provider.ProviderResponse{StatusCode: 202}, nil
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ provider.Backend = (*fakeBackend)(nil)

type recordingObserver struct {
	mu     sync.Mutex
	events []AttemptEvent
}

func (o *recordingObserver) ObserveAttempt(_ context.Context, ev AttemptEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) Events() []AttemptEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]AttemptEvent(nil), o.events...)
}

type fakeRenderer struct {
	renderFn func(ctx context.Context, n domain.Notification) (domain.RenderedContent, error)
}

func (f *fakeRenderer) Render(ctx context.Context, n domain.Notification) (domain.RenderedContent, error) {
	if f.renderFn != nil {
		return f.renderFn(ctx, n)
	}
	return domain.RenderedContent{Subject: n.Title, Text: n.Message}, nil
}

type fakeDeliverer struct {
	deliverFn func(ctx context.Context, channel domain.Channel, destination string, content domain.RenderedContent, opts deliverOptions) (*DeliveryResult, error)

	mu    sync.Mutex
	calls []deliverOptions
}

func (f *fakeDeliverer) Deliver(
	ctx context.Context,
	channel domain.Channel,
	destination string,
	content domain.RenderedContent,
	opts ...DeliverOption,
) (*DeliveryResult, error) {
	var o deliverOptions
	for _, opt := range opts {
		opt(&o)
	}
	f.mu.Lock()
	f.calls = append(f.calls, o)
	f.mu.Unlock()

	if f.deliverFn != nil {
		return f.deliverFn(ctx, channel, destination, content, o)
	}
	return &DeliveryResult{Provider: "fake", Attempts: 1}, nil
}

func (f *fakeDeliverer) Calls() []deliverOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deliverOptions(nil), f.calls...)
}

type fakeRetryWriter struct {
	putFn func(ctx context.Context, record domain.RetryRecord, failureReason string) error
}

func (f *fakeRetryWriter) Put(ctx context.Context, record domain.RetryRecord, failureReason string) error {
	if f.putFn != nil {
		return f.putFn(ctx, record, failureReason)
	}
	return nil
}

type fakeDispatcher struct {
	dispatchFn func(ctx context.Context, n domain.Notification) (*DispatchResult, error)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, n domain.Notification) (*DispatchResult, error) {
	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, n)
	}
	return &DispatchResult{Outcome: OutcomeDelivered, Provider: "fake"}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channel domain.Channel) (bool, error)
	waitFn  func(ctx context.Context, channel domain.Channel) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel domain.Channel) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, channel)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel domain.Channel) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.NotificationMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.NotificationMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeDeadLetterPublisher struct {
	publishFn func(ctx context.Context, channel domain.Channel, msg queue.DeadLetterMessage) error
}

func (f *fakeDeadLetterPublisher) PublishDeadLetter(ctx context.Context, channel domain.Channel, msg queue.DeadLetterMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, channel, msg)
	}
	return nil
}

type fakeAttemptRepo struct {
	createFn              func(ctx context.Context, a *domain.DeliveryAttempt) error
	getByNotificationIDFn func(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) GetByNotificationID(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error) {
	if f.getByNotificationIDFn != nil {
		return f.getByNotificationIDFn(ctx, notificationID)
	}
	return nil, nil
}

type recordingExpiry struct {
	mu     sync.Mutex
	events []ExpiredEvent
}

func (r *recordingExpiry) ReportExpired(_ context.Context, ev ExpiredEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingExpiry) Events() []ExpiredEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExpiredEvent(nil), r.events...)
}

func newTestNotification(id string, channel domain.Channel) domain.Notification {
	n := domain.Notification{
		ID:        id,
		UserID:    "user-1",
		Channel:   channel,
		Priority:  domain.PriorityNormal,
		Title:     "Reminder",
		Message:   "Your session starts soon",
		CreatedAt: fixedNow,
	}
	switch channel {
	case domain.ChannelEmail:
		n.Recipient = "user@example.com"
	case domain.ChannelSMS:
		n.Recipient = "+254700000001"
	case domain.ChannelPush:
		n.Recipient = "device-token"
	}
	return n
}

// metricValue gathers metrics and returns the value of the counter or gauge
// series name{labels}, or 0 when the series does not exist.
func metricValue(t *testing.T, metrics *observability.Metrics, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, label := range metric.GetLabel() {
				if want, ok := labels[label.GetName()]; ok && want == label.GetValue() {
					matched++
				}
			}
			if matched != len(labels) {
				continue
			}
			if counter := metric.GetCounter(); counter != nil {
				return counter.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}
