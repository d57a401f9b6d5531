package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-relay/internal/domain"
)

// ErrDeadLetter marks a handler failure that must not be requeued. The
// delivery is rejected and routed to the channel's dead-letter queue.
var ErrDeadLetter = errors.New("dead letter")

// Publisher publishes notification messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg NotificationMessage) error
	Close() error
}

// DeadLetterPublisher publishes expired retry records.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, channel domain.Channel, msg DeadLetterMessage) error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg NotificationMessage) error

// Consumer consumes notification messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
	queueMaxPriority int32 = 3
)

// QueueName returns the channel work queue name, e.g. sms.
func QueueName(channel domain.Channel) string {
	return channel.Key()
}

// DLQName returns the dead-letter queue name for a channel, e.g. dlq.sms.
func DLQName(channel domain.Channel) string {
	return fmt.Sprintf("dlq.%s", QueueName(channel))
}

// WorkQueueNames returns all channel work queues.
func WorkQueueNames() []string {
	queues := make([]string, 0, len(domain.Channels))
	for _, channel := range domain.Channels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	queues := make([]string, 0, len(domain.Channels))
	for _, channel := range domain.Channels {
		queues = append(queues, DLQName(channel))
	}
	return queues
}

// ChannelForQueue maps a work queue name back to its channel.
func ChannelForQueue(queue string) (domain.Channel, bool) {
	for _, channel := range domain.Channels {
		if QueueName(channel) == strings.TrimSpace(queue) {
			return channel, true
		}
	}
	return "", false
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
