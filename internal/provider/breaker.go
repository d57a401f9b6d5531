package provider

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures the circuit breaker put in front of a backend.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker once exceeded.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	Interval    time.Duration
	// OnStateChange is called on every transition, for logging.
	OnStateChange func(name string, from, to gobreaker.State)
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		Interval:            60 * time.Second,
	}
}

type breakerBackend struct {
	next    Backend
	breaker *gobreaker.CircuitBreaker[*ProviderResponse]
}

// WithBreaker wraps b so that repeated transient failures short-circuit
// further calls until the provider recovers. Permanent errors such as a
// rejected destination do not count against the provider.
func WithBreaker(b Backend, settings BreakerSettings) Backend {
	if b == nil {
		return nil
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = DefaultBreakerSettings().OpenTimeout
	}

	threshold := settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[*ProviderResponse](gobreaker.Settings{
		Name:        b.Name(),
		MaxRequests: 1,
		Interval:    settings.Interval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: settings.OnStateChange,
	})

	return &breakerBackend{next: b, breaker: cb}
}

func (b *breakerBackend) Name() string { return b.next.Name() }

func (b *breakerBackend) Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error) {
	resp, err := b.breaker.Execute(func() (*ProviderResponse, error) {
		return b.next.Send(ctx, destination, content)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &ProviderError{
			Provider:  b.next.Name(),
			Message:   "circuit breaker open",
			Transient: true,
			Cause:     err,
		}
	}
	return resp, err
}

// State exposes the breaker state for diagnostics.
func (b *breakerBackend) State() gobreaker.State { return b.breaker.State() }
