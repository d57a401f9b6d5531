package provider

import (
	"context"

	"github.com/kursadbilgin/notification-relay/internal/domain"
)

// Backend is one outbound delivery capability: a single provider able to
// deliver rendered content on one channel.
type Backend interface {
	Name() string
	Send(ctx context.Context, destination string, content domain.RenderedContent) (*ProviderResponse, error)
}

// ProviderResponse stores provider call metadata for audit and logging.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
