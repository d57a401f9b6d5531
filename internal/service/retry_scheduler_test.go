package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
	relayredis "github.com/kursadbilgin/notification-relay/internal/infra/redis"
	"github.com/kursadbilgin/notification-relay/internal/observability"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newSchedulerStore(t *testing.T) *relayredis.RetryStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := relayredis.NewRetryStore(client, domain.DefaultRetryPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryStore() error = %v", err)
	}
	return store
}

func putRecord(t *testing.T, store *relayredis.RetryStore, id string, createdAt time.Time) {
	t.Helper()

	n := newTestNotification(id, domain.ChannelEmail)
	record := domain.NewRetryRecord(n, n.Recipient, domain.RenderedContent{Subject: "stored subject", Text: "stored"}, createdAt)
	if err := store.Put(context.Background(), record, "initial failure"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
}

func newTestScheduler(t *testing.T, store RetryStore, deliverer Deliverer, expiry ExpiryReporter, metrics *observability.Metrics, now time.Time) *RetryScheduler {
	t.Helper()

	s, err := NewRetryScheduler(store, deliverer, expiry, metrics, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}
	s.now = func() time.Time { return now }
	return s
}

func TestRetrySchedulerFirstBandSuccessRemovesRecord(t *testing.T) {
	t.Parallel()

	store := newSchedulerStore(t)
	putRecord(t, store, "n-1", fixedNow)

	deliverer := &fakeDeliverer{
		deliverFn: func(_ context.Context, channel domain.Channel, destination string, content domain.RenderedContent, opts deliverOptions) (*DeliveryResult, error) {
			if destination != "user@example.com" || content.Subject != "stored subject" {
				t.Fatalf("deliver(%q, %+v) did not use stored content", destination, content)
			}
			return &DeliveryResult{Provider: "mailgun", Attempts: 1}, nil
		},
	}
	metrics := observability.NewMetrics()
	s := newTestScheduler(t, store, deliverer, nil, metrics, fixedNow.Add(2*time.Minute+30*time.Second))

	if err := s.retryBand(context.Background(), domain.BandFirst); err != nil {
		t.Fatalf("retryBand() error = %v", err)
	}

	calls := deliverer.Calls()
	if len(calls) != 1 || calls[0].source != domain.SourceFirstRetry || calls[0].notificationID != "n-1" {
		t.Fatalf("deliver calls = %+v", calls)
	}
	if _, err := store.Get(context.Background(), "n-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected record to be removed, got %v", err)
	}
	if got := metricValue(t, metrics, "notification_relay_retry_attempts_total", map[string]string{"band": "first", "outcome": "success"}); got != 1 {
		t.Fatalf("retry_attempts_total = %v, want 1", got)
	}
}

func TestRetrySchedulerFailureKeepsRecord(t *testing.T) {
	t.Parallel()

	store := newSchedulerStore(t)
	putRecord(t, store, "n-1", fixedNow)

	deliverer := &fakeDeliverer{
		deliverFn: func(context.Context, domain.Channel, string, domain.RenderedContent, deliverOptions) (*DeliveryResult, error) {
			return nil, &ChainExhaustedError{Channel: domain.ChannelEmail, ChainSize: 1, Attempted: []string{"smtp"}, LastErr: errors.New("smtp refused")}
		},
	}
	s := newTestScheduler(t, store, deliverer, nil, nil, fixedNow.Add(2*time.Minute+5*time.Second))

	if err := s.retryBand(context.Background(), domain.BandFirst); err != nil {
		t.Fatalf("retryBand() error = %v", err)
	}

	got, err := store.Get(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.AttemptCount != 2 {
		t.Fatalf("AttemptCount = %d, want 2", got.AttemptCount)
	}
	if got.FailureReason == "initial failure" {
		t.Fatal("failure reason should be updated")
	}
}

func TestRetrySchedulerSkipsRecordsOutsideBand(t *testing.T) {
	t.Parallel()

	store := newSchedulerStore(t)
	putRecord(t, store, "young", fixedNow)
	putRecord(t, store, "between", fixedNow.Add(-2*time.Minute-30*time.Second))

	deliverer := &fakeDeliverer{}
	s := newTestScheduler(t, store, deliverer, nil, nil, fixedNow.Add(time.Minute))

	for _, band := range []domain.Band{domain.BandFirst, domain.BandSecond} {
		if err := s.retryBand(context.Background(), band); err != nil {
			t.Fatalf("retryBand(%s) error = %v", band, err)
		}
	}
	if calls := deliverer.Calls(); len(calls) != 0 {
		t.Fatalf("deliver calls = %d, want 0", len(calls))
	}
}

func TestRetrySchedulerFullLifecycleExpiresOnce(t *testing.T) {
	t.Parallel()

	store := newSchedulerStore(t)
	putRecord(t, store, "n-1", fixedNow)

	deliverer := &fakeDeliverer{
		deliverFn: func(context.Context, domain.Channel, string, domain.RenderedContent, deliverOptions) (*DeliveryResult, error) {
			return nil, &ChainExhaustedError{Channel: domain.ChannelEmail, ChainSize: 1, Attempted: []string{"ses"}}
		},
	}
	expiry := &recordingExpiry{}
	metrics := observability.NewMetrics()
	s := newTestScheduler(t, store, deliverer, expiry, metrics, fixedNow)
	ctx := context.Background()

	s.now = func() time.Time { return fixedNow.Add(2*time.Minute + 20*time.Second) }
	if err := s.retryBand(ctx, domain.BandFirst); err != nil {
		t.Fatalf("first band error = %v", err)
	}
	s.now = func() time.Time { return fixedNow.Add(4*time.Minute + 20*time.Second) }
	if err := s.retryBand(ctx, domain.BandSecond); err != nil {
		t.Fatalf("second band error = %v", err)
	}

	calls := deliverer.Calls()
	if len(calls) != 2 || calls[1].source != domain.SourceSecondRetry {
		t.Fatalf("deliver calls = %+v", calls)
	}

	s.now = func() time.Time { return fixedNow.Add(5*time.Minute + 5*time.Second) }
	if err := s.cleanup(ctx); err != nil {
		t.Fatalf("cleanup() error = %v", err)
	}
	if err := s.cleanup(ctx); err != nil {
		t.Fatalf("second cleanup() error = %v", err)
	}

	events := expiry.Events()
	if len(events) != 1 {
		t.Fatalf("expired events = %d, want 1", len(events))
	}
	if events[0].Record.NotificationID != "n-1" || events[0].Record.AttemptCount != 3 {
		t.Fatalf("expired record = %+v", events[0].Record)
	}
	if _, err := store.Get(ctx, "n-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected record to be purged, got %v", err)
	}
	if got := metricValue(t, metrics, "notification_relay_retry_store_records", map[string]string{"band": "total"}); got != 0 {
		t.Fatalf("retry_store_records{total} = %v, want 0 after second cleanup", got)
	}
}

func TestRetrySchedulerConcurrentCleanupReportsOnce(t *testing.T) {
	t.Parallel()

	store := newSchedulerStore(t)
	for _, id := range []string{"a", "b", "c"} {
		putRecord(t, store, id, fixedNow)
	}

	expiry := &recordingExpiry{}
	later := fixedNow.Add(6 * time.Minute)
	first := newTestScheduler(t, store, &fakeDeliverer{}, expiry, nil, later)
	second := newTestScheduler(t, store, &fakeDeliverer{}, expiry, nil, later)

	var wg sync.WaitGroup
	for _, s := range []*RetryScheduler{first, second} {
		wg.Add(1)
		go func(s *RetryScheduler) {
			defer wg.Done()
			_ = s.cleanup(context.Background())
		}(s)
	}
	wg.Wait()

	if got := len(expiry.Events()); got != 3 {
		t.Fatalf("expired events = %d, want 3", got)
	}
}

type countingStore struct {
	policy domain.RetryPolicy
	scans  atomic.Int64
}

func (s *countingStore) Policy() domain.RetryPolicy { return s.policy }

func (s *countingStore) ListAll(context.Context) ([]domain.RetryRecord, error) {
	s.scans.Add(1)
	return nil, nil
}

func (s *countingStore) ListInBand(context.Context, domain.Band, time.Time) ([]domain.RetryRecord, error) {
	s.scans.Add(1)
	return nil, nil
}

func (s *countingStore) IncrementAttempt(context.Context, string) (int64, error) { return 0, nil }

func (s *countingStore) RecordFailure(context.Context, string, string) error { return nil }

func (s *countingStore) Remove(context.Context, string) error { return nil }

func (s *countingStore) Delete(context.Context, string) (bool, error) { return false, nil }

func TestRetrySchedulerStartStopIdempotent(t *testing.T) {
	t.Parallel()

	policy := domain.DefaultRetryPolicy()
	policy.ScanInterval = 5 * time.Millisecond
	store := &countingStore{policy: policy}

	s, err := NewRetryScheduler(store, &fakeDeliverer{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}

	s.Start(context.Background())
	s.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for store.scans.Load() < 6 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.scans.Load() < 6 {
		t.Fatalf("scans = %d, want at least 6", store.scans.Load())
	}

	s.Stop()
	s.Stop()

	after := store.scans.Load()
	time.Sleep(20 * time.Millisecond)
	if store.scans.Load() != after {
		t.Fatal("scans continued after Stop")
	}
}

func TestRetrySchedulerRunReturnsOnCancel(t *testing.T) {
	t.Parallel()

	store := &countingStore{policy: domain.DefaultRetryPolicy()}
	s, err := NewRetryScheduler(store, &fakeDeliverer{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for store.scans.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestNewRetrySchedulerRejectsInvalidPolicy(t *testing.T) {
	t.Parallel()

	policy := domain.DefaultRetryPolicy()
	policy.ScanInterval = 2 * time.Minute

	if _, err := NewRetryScheduler(&countingStore{policy: policy}, &fakeDeliverer{}, nil, nil, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
