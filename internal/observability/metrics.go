package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notification_relay"

// Metrics stores Prometheus collectors used by the API, the delivery path and
// the retry scheduler. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	notificationsAccepted   *prometheus.CounterVec
	notificationsDelivered  *prometheus.CounterVec
	providerAttemptsTotal   *prometheus.CounterVec
	providerAttemptDuration *prometheus.HistogramVec
	chainExhaustedTotal     *prometheus.CounterVec
	retryQueuedTotal        *prometheus.CounterVec
	retryAttemptsTotal      *prometheus.CounterVec
	retryExpiredTotal       *prometheus.CounterVec
	notificationsLostTotal  *prometheus.CounterVec
	workerInflight          *prometheus.GaugeVec
	retryStoreRecords       *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsAccepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_accepted_total",
				Help:      "Notifications accepted by the API and published for delivery.",
			},
			[]string{"channel"},
		),
		notificationsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_delivered_total",
				Help:      "Notifications delivered, by channel and whether the delivery came from a retry.",
			},
			[]string{"channel", "source"},
		),
		providerAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_attempts_total",
				Help:      "Backend send attempts by channel, provider, and outcome.",
			},
			[]string{"channel", "provider", "outcome"},
		),
		providerAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_attempt_duration_seconds",
				Help:      "Backend send duration in seconds by channel and provider.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel", "provider"},
		),
		chainExhaustedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chain_exhausted_total",
				Help:      "Deliveries where every provider in the chain failed.",
			},
			[]string{"channel"},
		),
		retryQueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_queued_total",
				Help:      "Notifications written to the retry store after a failed first delivery.",
			},
			[]string{"channel"},
		),
		retryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Scheduled redelivery attempts by band and outcome.",
			},
			[]string{"band", "outcome"},
		),
		retryExpiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_expired_total",
				Help:      "Retry records that aged out without a successful delivery.",
			},
			[]string{"channel"},
		),
		notificationsLostTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_lost_total",
				Help:      "Notifications whose delivery failed and whose retry record could not be stored.",
			},
			[]string{"channel"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker operations grouped by channel.",
			},
			[]string{"channel"},
		),
		retryStoreRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "retry_store_records",
				Help:      "Records in the retry store at the last scan, by band.",
			},
			[]string{"band"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsAccepted,
		m.notificationsDelivered,
		m.providerAttemptsTotal,
		m.providerAttemptDuration,
		m.chainExhaustedTotal,
		m.retryQueuedTotal,
		m.retryAttemptsTotal,
		m.retryExpiredTotal,
		m.notificationsLostTotal,
		m.workerInflight,
		m.retryStoreRecords,
	)

	return m
}

// Registry exposes the underlying registry, e.g. for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncNotificationAccepted(channel string) {
	if m == nil {
		return
	}
	m.notificationsAccepted.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncNotificationDelivered(channel string, source string) {
	if m == nil {
		return
	}
	m.notificationsDelivered.WithLabelValues(normalizeChannel(channel), normalizeLabel(source)).Inc()
}

// ObserveProviderAttempt records one backend call.
func (m *Metrics) ObserveProviderAttempt(channel, provider, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	ch := normalizeChannel(channel)
	name := normalizeLabel(provider)
	m.providerAttemptsTotal.WithLabelValues(ch, name, normalizeLabel(outcome)).Inc()

	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.providerAttemptDuration.WithLabelValues(ch, name).Observe(seconds)
}

func (m *Metrics) IncChainExhausted(channel string) {
	if m == nil {
		return
	}
	m.chainExhaustedTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncRetryQueued(channel string) {
	if m == nil {
		return
	}
	m.retryQueuedTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncRetryAttempt(band string, outcome string) {
	if m == nil {
		return
	}
	m.retryAttemptsTotal.WithLabelValues(normalizeLabel(band), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncRetryExpired(channel string) {
	if m == nil {
		return
	}
	m.retryExpiredTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncNotificationLost(channel string) {
	if m == nil {
		return
	}
	m.notificationsLostTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncWorkerInFlight(channel string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) DecWorkerInFlight(channel string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeChannel(channel)).Dec()
}

// SetRetryStoreRecords publishes the latest retry store snapshot.
func (m *Metrics) SetRetryStoreRecords(total, first, second, cleanup int) {
	if m == nil {
		return
	}
	m.retryStoreRecords.WithLabelValues("total").Set(float64(total))
	m.retryStoreRecords.WithLabelValues("first").Set(float64(first))
	m.retryStoreRecords.WithLabelValues("second").Set(float64(second))
	m.retryStoreRecords.WithLabelValues("cleanup").Set(float64(cleanup))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeChannel(channel string) string {
	return normalizeLabel(channel)
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
