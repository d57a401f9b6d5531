package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dlxExchangeName  = "relay.dlx"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	connectTimeout   = 15 * time.Second
)

// queueSpec describes one queue of the relay topology.
type queueSpec struct {
	name string
	// deadLetterKey is set on work queues; rejected deliveries go to the DLX with it.
	deadLetterKey string
	// bindKey is set on dead-letter queues; they are bound to the DLX with it.
	bindKey string
}

// topology lists, per channel, the dead-letter queue followed by the work
// queue that dead-letters into it.
func topology() []queueSpec {
	specs := make([]queueSpec, 0, 2*len(domain.Channels))
	for _, channel := range domain.Channels {
		key := channelRoutingKey(channel)
		specs = append(specs,
			queueSpec{name: DLQName(channel), bindKey: key},
			queueSpec{name: QueueName(channel), deadLetterKey: key},
		)
	}
	return specs
}

func (s queueSpec) args() amqp.Table {
	if s.deadLetterKey == "" {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": s.deadLetterKey,
		"x-max-priority":            queueMaxPriority,
	}
}

// RabbitMQ owns the broker connection. It reconnects with capped exponential
// backoff and declares the relay topology once per connection.
type RabbitMQ struct {
	url    string
	logger *zap.Logger
	dial   func(url string) (*amqp.Connection, error)

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
	declaredFor *amqp.Connection
}

func NewRabbitMQ(ctx context.Context, url string, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &RabbitMQ{url: url, logger: logger, dial: amqp.Dial}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declaredFor = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// Ping reports whether the broker connection is open.
func (r *RabbitMQ) Ping() error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

// channel opens an AMQP channel on a live connection, redialing once when
// the current connection refuses to open one.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	conn := r.current()
	ch, err := conn.Channel()
	if err != nil {
		r.logger.Warn("rabbitmq channel open failed, reconnecting", zap.Error(err))
		if errReconnect := r.reconnectWithBackoff(ctx); errReconnect != nil {
			return nil, errReconnect
		}

		conn = r.current()
		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := r.declareOnce(conn, ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func (r *RabbitMQ) current() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

func (r *RabbitMQ) declareOnce(conn *amqp.Connection, ch *amqp.Channel) error {
	r.mu.RLock()
	done := r.declaredFor == conn
	r.mu.RUnlock()
	if done {
		return nil
	}

	if err := declareTopology(ch); err != nil {
		return err
	}

	r.mu.Lock()
	if r.conn == conn {
		r.declaredFor = conn
	}
	r.mu.Unlock()
	return nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	if conn := r.current(); conn != nil && !conn.IsClosed() {
		return nil
	}
	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	if conn := r.current(); conn != nil && !conn.IsClosed() {
		return nil
	}

	wait := reconnectBackoff
	for attempt := 1; ; attempt++ {
		newConn, err := r.dial(r.url)
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.declaredFor = nil
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}
			if attempt > 1 {
				r.logger.Info("rabbitmq reconnected", zap.Int("attempts", attempt))
			}
			return nil
		}

		r.logger.Warn("rabbitmq dial failed",
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait = nextBackoff(wait)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, spec := range topology() {
		if _, err := ch.QueueDeclare(spec.name, true, false, false, false, spec.args()); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", spec.name, err)
		}
		if spec.bindKey == "" {
			continue
		}
		if err := ch.QueueBind(spec.name, spec.bindKey, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq %q: %w", spec.name, err)
		}
	}

	return nil
}

func channelRoutingKey(channel domain.Channel) string {
	return channel.Key()
}
