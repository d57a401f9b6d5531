package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
)

// RetryStatsSource reports band membership of the retry store.
type RetryStatsSource interface {
	Policy() domain.RetryPolicy
	Stats(ctx context.Context, now time.Time) (domain.RetryStats, error)
}

// ProviderLister reports the ordered provider chain of every channel.
type ProviderLister interface {
	ProviderNames() map[domain.Channel][]string
}

type InfoOptions struct {
	Service string
	Version string
	Now     func() time.Time
}

type InfoHandler struct {
	stats     RetryStatsSource
	providers ProviderLister
	opts      InfoOptions
}

type retryPolicyResponse struct {
	RetentionSec    int64 `json:"retentionSec"`
	FirstMarkSec    int64 `json:"firstMarkSec"`
	SecondMarkSec   int64 `json:"secondMarkSec"`
	BandWidthSec    int64 `json:"bandWidthSec"`
	ScanIntervalSec int64 `json:"scanIntervalSec"`
}

type retryStatsResponse struct {
	domain.RetryStats
	Policy    retryPolicyResponse `json:"policy"`
	Timestamp time.Time           `json:"timestamp"`
}

type providersResponse struct {
	Email []string `json:"email"`
	SMS   []string `json:"sms"`
	Push  []string `json:"push"`
}

// RegisterInfoRoutes mounts the service info, provider and retry stats
// endpoints. Either source may be nil, in which case its route is not mounted.
func RegisterInfoRoutes(router fiber.Router, stats RetryStatsSource, providers ProviderLister, opts InfoOptions) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &InfoHandler{stats: stats, providers: providers, opts: opts}

	v1 := router.Group("/v1")
	v1.Get("/info", h.Info)
	if providers != nil {
		v1.Get("/providers", h.Providers)
	}
	if stats != nil {
		v1.Get("/retry/stats", h.RetryStats)
	}
}

func (h *InfoHandler) Info(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"service":   h.opts.Service,
		"version":   h.opts.Version,
		"status":    "ok",
		"timestamp": h.opts.Now().UTC(),
	})
}

func (h *InfoHandler) Providers(c *fiber.Ctx) error {
	names := h.providers.ProviderNames()
	return c.Status(fiber.StatusOK).JSON(providersResponse{
		Email: nonNil(names[domain.ChannelEmail]),
		SMS:   nonNil(names[domain.ChannelSMS]),
		Push:  nonNil(names[domain.ChannelPush]),
	})
}

func (h *InfoHandler) RetryStats(c *fiber.Ctx) error {
	now := h.opts.Now()
	stats, err := h.stats.Stats(c.UserContext(), now)
	if err != nil {
		return toHTTPError(err)
	}

	policy := h.stats.Policy()
	return c.Status(fiber.StatusOK).JSON(retryStatsResponse{
		RetryStats: stats,
		Policy: retryPolicyResponse{
			RetentionSec:    int64(policy.Retention / time.Second),
			FirstMarkSec:    int64(policy.FirstMark / time.Second),
			SecondMarkSec:   int64(policy.SecondMark / time.Second),
			BandWidthSec:    int64(policy.BandWidth / time.Second),
			ScanIntervalSec: int64(policy.ScanInterval / time.Second),
		},
		Timestamp: now.UTC(),
	})
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
