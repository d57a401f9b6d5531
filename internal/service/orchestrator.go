package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/kursadbilgin/notification-relay/internal/provider"
	"go.uber.org/zap"
)

const (
	defaultProviderTimeout = 10 * time.Second
	mockProviderName       = "mock"
)

// ChainExhaustedError is returned by Deliver when every backend in a
// non-empty chain failed.
type ChainExhaustedError struct {
	Channel   domain.Channel
	ChainSize int
	Attempted []string
	LastErr   error
}

func (e *ChainExhaustedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("all %d %s providers failed (%s)", e.ChainSize, e.Channel.Key(), strings.Join(e.Attempted, ", "))
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *ChainExhaustedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.LastErr
}

// DeliveryResult describes a successful delivery.
type DeliveryResult struct {
	Provider string
	Mock     bool
	Response *provider.ProviderResponse
	Attempts int
}

// AttemptEvent is emitted once per backend call, and once for a mock delivery.
type AttemptEvent struct {
	NotificationID string
	Channel        domain.Channel
	Destination    string
	Provider       string
	Index          int
	ChainSize      int
	Outcome        domain.AttemptOutcome
	Source         domain.AttemptSource
	Response       *provider.ProviderResponse
	Err            error
	Duration       time.Duration
	At             time.Time
}

// AttemptObserver receives attempt events. Implementations must not block for long.
type AttemptObserver interface {
	ObserveAttempt(ctx context.Context, ev AttemptEvent)
}

// AttemptObserverFunc adapts a function to AttemptObserver.
type AttemptObserverFunc func(ctx context.Context, ev AttemptEvent)

func (f AttemptObserverFunc) ObserveAttempt(ctx context.Context, ev AttemptEvent) { f(ctx, ev) }

type deliverOptions struct {
	notificationID string
	source         domain.AttemptSource
}

// DeliverOption annotates the attempt events of a single Deliver call.
type DeliverOption func(*deliverOptions)

func WithNotificationID(id string) DeliverOption {
	return func(o *deliverOptions) { o.notificationID = id }
}

func WithSource(source domain.AttemptSource) DeliverOption {
	return func(o *deliverOptions) { o.source = source }
}

// Orchestrator walks a channel's provider chain in order and stops at the
// first backend that accepts the message.
type Orchestrator struct {
	chains   map[domain.Channel]provider.Chain
	timeout  time.Duration
	observer AttemptObserver
	logger   *zap.Logger
	now      func() time.Time
}

func NewOrchestrator(
	chains []provider.Chain,
	timeout time.Duration,
	observer AttemptObserver,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byChannel := make(map[domain.Channel]provider.Chain, len(chains))
	for _, chain := range chains {
		if !chain.Channel().IsValid() {
			return nil, fmt.Errorf("%w: chain has invalid channel %q", domain.ErrValidation, chain.Channel())
		}
		if _, dup := byChannel[chain.Channel()]; dup {
			return nil, fmt.Errorf("%w: duplicate chain for channel %s", domain.ErrValidation, chain.Channel().Key())
		}
		byChannel[chain.Channel()] = chain
	}

	return &Orchestrator{
		chains:   byChannel,
		timeout:  timeout,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// ProviderNames returns the ordered backend names for every channel. Channels
// without a chain map to an empty list.
func (o *Orchestrator) ProviderNames() map[domain.Channel][]string {
	names := make(map[domain.Channel][]string, len(domain.Channels))
	for _, channel := range domain.Channels {
		names[channel] = o.chains[channel].Names()
	}
	return names
}

// Deliver sends content to destination through the channel's chain. An empty
// chain is a mock success. When every backend fails the error is a
// *ChainExhaustedError. Cancellation of ctx stops the walk and returns ctx's
// error instead.
func (o *Orchestrator) Deliver(
	ctx context.Context,
	channel domain.Channel,
	destination string,
	content domain.RenderedContent,
	opts ...DeliverOption,
) (*DeliveryResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
	}

	options := deliverOptions{source: domain.SourceIntake}
	for _, opt := range opts {
		opt(&options)
	}

	logger := o.logger.With(
		zap.String("channel", channel.Key()),
		zap.String("source", string(options.source)),
	)
	if options.notificationID != "" {
		logger = logger.With(zap.String("notificationId", options.notificationID))
	}

	chain := o.chains[channel]
	if chain.Empty() {
		logger.Info("no provider configured, using mock delivery",
			zap.String("destination", destination),
		)
		o.emit(ctx, AttemptEvent{
			NotificationID: options.notificationID,
			Channel:        channel,
			Destination:    destination,
			Provider:       mockProviderName,
			Outcome:        domain.AttemptMock,
			Source:         options.source,
			At:             o.now().UTC(),
		})
		return &DeliveryResult{Provider: mockProviderName, Mock: true}, nil
	}

	backends := chain.Backends()
	attempted := make([]string, 0, len(backends))
	var lastErr error

	for i, backend := range backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := backend.Name()
		attempted = append(attempted, name)

		start := o.now()
		resp, err := o.send(ctx, backend, destination, content)
		duration := o.now().Sub(start)

		event := AttemptEvent{
			NotificationID: options.notificationID,
			Channel:        channel,
			Destination:    destination,
			Provider:       name,
			Index:          i,
			ChainSize:      len(backends),
			Source:         options.source,
			Response:       resp,
			Duration:       duration,
			At:             start.UTC(),
		}

		if err == nil {
			event.Outcome = domain.AttemptSucceeded
			o.emit(ctx, event)
			logger.Info("notification delivered",
				zap.String("provider", name),
				zap.Int("attempt", i+1),
				zap.Int("chainSize", len(backends)),
			)
			return &DeliveryResult{Provider: name, Response: resp, Attempts: i + 1}, nil
		}

		event.Outcome = domain.AttemptFailed
		event.Err = err
		o.emit(ctx, event)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		logger.Warn("provider failed, trying next",
			zap.String("provider", name),
			zap.Int("attempt", i+1),
			zap.Int("chainSize", len(backends)),
			zap.Bool("transient", provider.IsTransient(err)),
			zap.Error(err),
		)
	}

	exhausted := &ChainExhaustedError{
		Channel:   channel,
		ChainSize: len(backends),
		Attempted: attempted,
		LastErr:   lastErr,
	}
	logger.Error("all providers failed",
		zap.Strings("attempted", attempted),
		zap.Error(lastErr),
	)
	return nil, exhausted
}

func (o *Orchestrator) send(
	ctx context.Context,
	backend provider.Backend,
	destination string,
	content domain.RenderedContent,
) (*provider.ProviderResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := backend.Send(callCtx, destination, content)
	if err == nil {
		return resp, nil
	}

	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		var providerErr *provider.ProviderError
		if !errors.As(err, &providerErr) {
			err = &provider.ProviderError{
				Provider:  backend.Name(),
				Message:   fmt.Sprintf("timed out after %s", o.timeout),
				Transient: true,
				Cause:     err,
			}
		}
	}
	return resp, err
}

func (o *Orchestrator) emit(ctx context.Context, ev AttemptEvent) {
	if o.observer == nil {
		return
	}
	o.observer.ObserveAttempt(ctx, ev)
}
