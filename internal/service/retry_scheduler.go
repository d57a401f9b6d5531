package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/kursadbilgin/notification-relay/internal/observability"
	"go.uber.org/zap"
)

// RetryStore is the scheduler's view of the durable retry store.
type RetryStore interface {
	Policy() domain.RetryPolicy
	ListAll(ctx context.Context) ([]domain.RetryRecord, error)
	ListInBand(ctx context.Context, band domain.Band, now time.Time) ([]domain.RetryRecord, error)
	IncrementAttempt(ctx context.Context, id string) (int64, error)
	RecordFailure(ctx context.Context, id string, reason string) error
	Remove(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (bool, error)
}

// RetryScheduler redelivers stored notifications when their age enters the
// first or second band and purges them once they reach the retention mark.
// Each of the three scans runs on its own ticker.
type RetryScheduler struct {
	store     RetryStore
	deliverer Deliverer
	expiry    ExpiryReporter
	metrics   *observability.Metrics
	logger    *zap.Logger
	policy    domain.RetryPolicy
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	running *sync.WaitGroup
}

func NewRetryScheduler(
	store RetryStore,
	deliverer Deliverer,
	expiry ExpiryReporter,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*RetryScheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("retry store is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	policy := store.Policy()
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScheduler{
		store:     store,
		deliverer: deliverer,
		expiry:    expiry,
		metrics:   metrics,
		logger:    logger,
		policy:    policy,
		now:       time.Now,
	}, nil
}

// Start launches the scan loops and returns immediately. Calling Start on a
// running scheduler does nothing.
func (s *RetryScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	s.cancel = cancel
	s.running = wg

	loops := []struct {
		name string
		scan func(context.Context) error
	}{
		{name: domain.BandFirst.String(), scan: func(ctx context.Context) error { return s.retryBand(ctx, domain.BandFirst) }},
		{name: domain.BandSecond.String(), scan: func(ctx context.Context) error { return s.retryBand(ctx, domain.BandSecond) }},
		{name: domain.BandCleanup.String(), scan: s.cleanup},
	}

	wg.Add(len(loops))
	for _, l := range loops {
		go func(name string, scan func(context.Context) error) {
			defer wg.Done()
			s.loop(runCtx, name, scan)
		}(l.name, l.scan)
	}

	s.logger.Info("retry scheduler started",
		zap.Duration("scanInterval", s.policy.ScanInterval),
		zap.Duration("firstMark", s.policy.FirstMark),
		zap.Duration("secondMark", s.policy.SecondMark),
		zap.Duration("retention", s.policy.Retention),
	)
}

// Stop cancels the loops and waits for in-flight scans to finish. It is safe
// to call more than once.
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	cancel, wg := s.cancel, s.running
	s.cancel, s.running = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	wg.Wait()
	s.logger.Info("retry scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *RetryScheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *RetryScheduler) loop(ctx context.Context, name string, scan func(context.Context) error) {
	// Run an initial scan so records already in a band do not wait for the first tick.
	if err := scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scan failed", zap.String("scan", name), zap.Error(err))
	}

	ticker := time.NewTicker(s.policy.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := scan(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("retry scan failed", zap.String("scan", name), zap.Error(err))
			}
		}
	}
}

func (s *RetryScheduler) retryBand(ctx context.Context, band domain.Band) error {
	records, err := s.store.ListInBand(ctx, band, s.now())
	if err != nil {
		return fmt.Errorf("failed to list %s band: %w", band, err)
	}

	for i := range records {
		if ctx.Err() != nil {
			return nil
		}
		s.retryRecord(ctx, band, records[i])
	}
	return nil
}

func (s *RetryScheduler) retryRecord(ctx context.Context, band domain.Band, record domain.RetryRecord) {
	id := record.NotificationID
	logger := s.logger.With(
		zap.String("notificationId", id),
		zap.String("channel", record.Channel.Key()),
		zap.String("band", band.String()),
	)

	attempt, err := s.store.IncrementAttempt(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Debug("retry record removed before redelivery")
			return
		}
		logger.Error("failed to increment retry attempt", zap.Error(err))
		return
	}

	source := domain.SourceFirstRetry
	if band == domain.BandSecond {
		source = domain.SourceSecondRetry
	}

	result, err := s.deliverer.Deliver(ctx, record.Channel, record.Recipient, record.Rendered,
		WithNotificationID(id),
		WithSource(source),
	)
	if err == nil {
		s.metrics.IncRetryAttempt(band.String(), string(domain.AttemptSucceeded))
		s.metrics.IncNotificationDelivered(record.Channel.Key(), string(source))
		if err := s.store.Remove(ctx, id); err != nil {
			logger.Error("delivered on retry but failed to remove retry record", zap.Error(err))
		}
		logger.Info("notification delivered on retry",
			zap.String("provider", result.Provider),
			zap.Int64("attempt", attempt),
		)
		return
	}

	if ctx.Err() != nil {
		return
	}

	s.metrics.IncRetryAttempt(band.String(), string(domain.AttemptFailed))
	if recErr := s.store.RecordFailure(ctx, id, err.Error()); recErr != nil && !errors.Is(recErr, domain.ErrNotFound) {
		logger.Error("failed to record retry failure", zap.Error(recErr))
	}
	logger.Warn("retry delivery failed",
		zap.Int64("attempt", attempt),
		zap.Error(err),
	)
}

func (s *RetryScheduler) cleanup(ctx context.Context) error {
	now := s.now()
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list retry records: %w", err)
	}

	stats := domain.ComputeRetryStats(records, s.policy, now)
	s.metrics.SetRetryStoreRecords(stats.Total, stats.DueAtFirstMark, stats.DueAtSecondMark, stats.DueForCleanup)

	for i := range records {
		if ctx.Err() != nil {
			return nil
		}

		record := records[i]
		age := record.Age(now)
		if s.policy.BandFor(age) != domain.BandCleanup {
			continue
		}

		deleted, err := s.store.Delete(ctx, record.NotificationID)
		if err != nil {
			s.logger.Error("failed to delete expired retry record",
				zap.String("notificationId", record.NotificationID),
				zap.Error(err),
			)
			continue
		}
		if !deleted || s.expiry == nil {
			continue
		}

		s.expiry.ReportExpired(ctx, ExpiredEvent{Record: record, Age: age, ExpiredAt: now})
	}
	return nil
}
