package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// settlement is how a delivery is finished after the handler ran.
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	case settleDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// settlementFor maps a handler result to a settlement: nil acks, ErrDeadLetter
// rejects without requeue, anything else requeues.
func settlementFor(err error) settlement {
	switch {
	case err == nil:
		return settleAck
	case errors.Is(err, ErrDeadLetter):
		return settleDeadLetter
	default:
		return settleRequeue
	}
}

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is done, resubscribing with backoff whenever the
// broker channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	logger := c.logger.With(zap.String("queue", queue))
	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler, logger)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		logger.Warn("consumer interrupted, resubscribing",
			zap.Duration("retryIn", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler, logger *zap.Logger) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, d, handler, logger); err != nil {
				return err
			}
		}
	}
}

// handleDelivery decodes and dispatches one delivery. Message validation is
// left to the handler, which dead-letters what it cannot process.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler, logger *zap.Logger) error {
	var msg NotificationMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		logger.Warn("dead-lettering undecodable message",
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		return settle(d, settleDeadLetter)
	}

	handlerErr := handler(ctx, msg)
	outcome := settlementFor(handlerErr)

	switch outcome {
	case settleDeadLetter:
		logger.Error("dead-lettering message",
			zap.String("notificationId", msg.NotificationID),
			zap.Error(handlerErr),
		)
	case settleRequeue:
		logger.Warn("requeueing message after handler error",
			zap.String("notificationId", msg.NotificationID),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(handlerErr),
		)
	}

	return settle(d, outcome)
}

func settle(d amqp.Delivery, outcome settlement) error {
	var err error
	switch outcome {
	case settleAck:
		err = d.Ack(false)
	case settleDeadLetter:
		err = d.Reject(false)
	default:
		err = d.Nack(false, true)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", outcome, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
