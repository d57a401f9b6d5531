package ratelimit

import (
	"context"

	"github.com/kursadbilgin/notification-relay/internal/domain"
)

// RateLimiter caps first-delivery throughput per channel across every worker
// process. Retries from the scheduler are not throttled.
type RateLimiter interface {
	Allow(ctx context.Context, channel domain.Channel) (bool, error)
	Wait(ctx context.Context, channel domain.Channel) error
}
