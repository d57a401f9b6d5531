package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

var (
	_ Publisher           = (*RabbitMQPublisher)(nil)
	_ DeadLetterPublisher = (*RabbitMQPublisher)(nil)
)

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg NotificationMessage) error {
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid notification message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification message: %w", err)
	}

	return p.publish(ctx, queue, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.NotificationID,
		CorrelationId: msg.CorrelationID,
		Priority:      PriorityValue(msg.Priority),
		Body:          payload,
	})
}

// PublishDeadLetter routes an expired record through the dead-letter
// exchange so it lands in dlq.<channel> next to rejected deliveries.
func (p *RabbitMQPublisher) PublishDeadLetter(ctx context.Context, channel domain.Channel, msg DeadLetterMessage) error {
	if !channel.IsValid() {
		return fmt.Errorf("invalid channel %q", channel)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter message: %w", err)
	}

	return p.publishTo(ctx, dlxExchangeName, channelRoutingKey(channel), amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.Record.NotificationID,
		CorrelationId: msg.Record.CorrelationID,
		Type:          "retry.expired",
		Body:          payload,
	})
}

func (p *RabbitMQPublisher) publish(ctx context.Context, queue string, publishing amqp.Publishing) error {
	return p.publishTo(ctx, "", queue, publishing)
}

func (p *RabbitMQPublisher) publishTo(ctx context.Context, exchange, key string, publishing amqp.Publishing) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.PublishWithContext(ctx, exchange, key, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to %q: %w", key, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
