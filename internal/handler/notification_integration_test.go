package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-relay/internal/domain"
	"github.com/kursadbilgin/notification-relay/internal/queue"
	"github.com/kursadbilgin/notification-relay/internal/service"
	"github.com/kursadbilgin/notification-relay/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestNotificationIntegration_CreateNotification(t *testing.T) {
	t.Parallel()

	var got domain.Notification
	svc := &stubNotificationService{
		createFn: func(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
			if err := n.Validate(); err != nil {
				return nil, err
			}
			got = *n
			n.ID = "n-created"
			n.CorrelationID = "corr-from-service"
			return n, nil
		},
	}

	app := newNotificationTestApp(t, svc)

	validBody := `{"userId":"u-1","type":"email","title":"Hi","message":"hello","metadata":{"email":"a@example.com","badge":3,"vip":true}}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications", validBody)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var accepted map[string]any
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["id"] != "n-created" {
		t.Fatalf("id = %v, want n-created", accepted["id"])
	}
	if accepted["status"] != "queued" {
		t.Fatalf("status = %v, want queued", accepted["status"])
	}
	if accepted["channel"] != "email" {
		t.Fatalf("channel = %v, want email", accepted["channel"])
	}

	if got.Channel != domain.ChannelEmail {
		t.Fatalf("service channel = %q, want EMAIL", got.Channel)
	}
	if got.Priority != domain.PriorityNormal {
		t.Fatalf("service priority = %q, want NORMAL", got.Priority)
	}
	if got.Metadata["badge"] != "3" || got.Metadata["vip"] != "true" || got.Metadata["email"] != "a@example.com" {
		t.Fatalf("metadata = %v", got.Metadata)
	}
}

func TestNotificationIntegration_CreateNotificationRejects(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		createFn: func(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
			if err := n.Validate(); err != nil {
				return nil, err
			}
			if _, err := n.ResolveRecipient(); err != nil {
				return nil, err
			}
			return n, nil
		},
	}
	app := newNotificationTestApp(t, svc)

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "malformed json", body: `{"userId":`, want: "invalid request body"},
		{name: "missing user", body: `{"channel":"sms","title":"t","message":"m","recipient":"+1"}`, want: "userId is required"},
		{name: "missing title", body: `{"userId":"u","channel":"sms","message":"m","recipient":"+1"}`, want: "title is required"},
		{name: "unknown channel", body: `{"userId":"u","channel":"fax","title":"t","message":"m"}`, want: "invalid channel"},
		{name: "unknown priority", body: `{"userId":"u","channel":"sms","priority":"urgent","title":"t","message":"m"}`, want: "invalid priority"},
		{name: "no recipient", body: `{"userId":"u","channel":"sms","title":"t","message":"m"}`, want: "no recipient"},
		{
			name: "sms overflow",
			body: fmt.Sprintf(`{"userId":"u","channel":"sms","title":"t","recipient":"+1","message":"%s"}`, strings.Repeat("a", domain.MaxSMSContent+1)),
			want: "SMS content exceeds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications", tt.body)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(body))
			}
			if !strings.Contains(string(body), tt.want) {
				t.Fatalf("body = %s, want it to contain %q", string(body), tt.want)
			}
		})
	}
}

func TestNotificationIntegration_CreateNotificationPublishFailure(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		createFn: func(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
			return nil, errors.New("broker unreachable at amqp://secret")
		},
	}
	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications",
		`{"userId":"u","channel":"push","title":"t","message":"m","recipient":"tok"}`)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if strings.Contains(string(body), "secret") {
		t.Fatalf("body leaks internal error: %s", string(body))
	}
}

func TestNotificationIntegration_CorrelationIDFromHeader(t *testing.T) {
	t.Parallel()

	var publishedCorrelation string
	publisher := &stubPublisher{
		publishFn: func(_ context.Context, _ string, msg queue.NotificationMessage) error {
			publishedCorrelation = msg.CorrelationID
			return nil
		},
	}
	app := newServiceTestApp(t, publisher)

	req := httptest.NewRequest(http.MethodPost, "/v1/notifications",
		bytes.NewBufferString(`{"userId":"u","channel":"sms","title":"t","message":"m","recipient":"+15550001111"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(transport.HeaderCorrelationID, "corr-123")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if got := resp.Header.Get(transport.HeaderCorrelationID); got != "corr-123" {
		t.Fatalf("response correlation header = %q, want corr-123", got)
	}
	if publishedCorrelation != "corr-123" {
		t.Fatalf("published correlation id = %q, want corr-123", publishedCorrelation)
	}
}

func TestNotificationIntegration_CreateBatch(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		published []string
	)
	publisher := &stubPublisher{
		publishFn: func(_ context.Context, queueName string, msg queue.NotificationMessage) error {
			mu.Lock()
			defer mu.Unlock()
			published = append(published, queueName)
			return nil
		},
	}
	app := newServiceTestApp(t, publisher)

	items := make([]string, 0, 1001)
	for i := 0; i < 1001; i++ {
		items = append(items, `{"userId":"u","channel":"sms","title":"t","message":"m","recipient":"+1"}`)
	}
	overLimitBody := `{"notifications":[` + strings.Join(items, ",") + `]}`
	resp, _ := performRequest(t, app, http.MethodPost, "/v1/notifications/batch", overLimitBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for batch over limit", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/batch", `{"notifications":[]}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty batch", resp.StatusCode)
	}

	mixedBody := `{"notifications":[
		{"userId":"u1","channel":"email","title":"t","message":"m","metadata":{"email":"a@example.com"}},
		{"userId":"u2","channel":"fax","title":"t","message":"m","recipient":"x"},
		{"userId":"u3","type":"push","title":"t","message":"m","metadata":{"pushToken":"tok"}}
	]}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications/batch", mixedBody)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var parsed createBatchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.BatchID == "" {
		t.Fatal("batchId should not be empty")
	}
	if parsed.Total != 3 || parsed.Queued != 2 || parsed.Failed != 1 {
		t.Fatalf("counts = total %d queued %d failed %d, want 3/2/1", parsed.Total, parsed.Queued, parsed.Failed)
	}
	if parsed.Items[1].Status != "failed" || !strings.Contains(parsed.Items[1].Error, "invalid channel") {
		t.Fatalf("item[1] = %+v, want failed invalid channel", parsed.Items[1])
	}
	if parsed.Items[2].Status != "queued" || parsed.Items[2].Channel != "push" {
		t.Fatalf("item[2] = %+v, want queued push", parsed.Items[2])
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{queue.QueueName(domain.ChannelEmail), queue.QueueName(domain.ChannelPush)}
	if len(published) != len(want) || published[0] != want[0] || published[1] != want[1] {
		t.Fatalf("published queues = %v, want %v", published, want)
	}
}

func TestInfoIntegration_Routes(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	stats := &stubStatsSource{
		statsFn: func(_ context.Context, got time.Time) (domain.RetryStats, error) {
			if !got.Equal(now) {
				t.Errorf("Stats() now = %v, want %v", got, now)
			}
			return domain.RetryStats{Total: 4, DueAtFirstMark: 1, DueAtSecondMark: 2, DueForCleanup: 1}, nil
		},
	}
	providers := stubProviderLister{
		domain.ChannelEmail: {"sendgrid", "smtp"},
		domain.ChannelSMS:   {"twilio"},
	}

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	RegisterInfoRoutes(app, stats, providers, InfoOptions{
		Service: "notification-relay",
		Version: "test",
		Now:     func() time.Time { return now },
	})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/info", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("info status = %d, want 200", resp.StatusCode)
	}
	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if info["service"] != "notification-relay" || info["version"] != "test" || info["status"] != "ok" {
		t.Fatalf("info = %v", info)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/providers", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("providers status = %d, want 200", resp.StatusCode)
	}
	var chains providersResponse
	if err := json.Unmarshal(body, &chains); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(chains.Email) != 2 || chains.Email[0] != "sendgrid" || len(chains.SMS) != 1 {
		t.Fatalf("providers = %+v", chains)
	}
	if chains.Push == nil || len(chains.Push) != 0 {
		t.Fatalf("push providers = %v, want empty list", chains.Push)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/retry/stats", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("stats status = %d, want 200", resp.StatusCode)
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["total"] != float64(4) || parsed["dueAtSecondMark"] != float64(2) {
		t.Fatalf("stats = %v", parsed)
	}
	policy, ok := parsed["policy"].(map[string]any)
	if !ok || policy["retentionSec"] != float64(300) {
		t.Fatalf("policy = %v", parsed["policy"])
	}
}

func TestInfoIntegration_RetryStatsStoreDown(t *testing.T) {
	t.Parallel()

	stats := &stubStatsSource{
		statsFn: func(context.Context, time.Time) (domain.RetryStats, error) {
			return domain.RetryStats{}, fmt.Errorf("%w: scan: connection refused", domain.ErrStoreUnavailable)
		},
	}
	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	RegisterInfoRoutes(app, stats, nil, InfoOptions{})

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/retry/stats", "")
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/providers", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("providers status = %d, want 404 when not mounted", resp.StatusCode)
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app)

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newMiniredisClient(t)

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app,
			RedisCheck(rdb),
			PostgresCheck(sqlDB),
			RabbitMQCheck(func() error { return nil }),
		)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when a dependency is down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newMiniredisClient(t)

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app,
			RedisCheck(rdb),
			PostgresCheck(sqlDB),
			RabbitMQCheck(func() error { return errors.New("connection closed") }),
		)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}

		var parsed struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if parsed.Checks["redis"] != "ok" || parsed.Checks["postgres"] != "down" || parsed.Checks["rabbitmq"] != "down" {
			t.Fatalf("checks = %v", parsed.Checks)
		}
	})
}

type stubNotificationService struct {
	createFn      func(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	createBatchFn func(ctx context.Context, notifications []domain.Notification) (*service.BatchResult, error)
}

func (s *stubNotificationService) Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if s.createFn != nil {
		return s.createFn(ctx, n)
	}
	return nil, errors.New("not implemented")
}

func (s *stubNotificationService) CreateBatch(
	ctx context.Context,
	notifications []domain.Notification,
) (*service.BatchResult, error) {
	if s.createBatchFn != nil {
		return s.createBatchFn(ctx, notifications)
	}
	return nil, errors.New("not implemented")
}

type stubPublisher struct {
	publishFn func(ctx context.Context, queue string, msg queue.NotificationMessage) error
}

func (p *stubPublisher) Publish(ctx context.Context, queueName string, msg queue.NotificationMessage) error {
	if p.publishFn != nil {
		return p.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (p *stubPublisher) Close() error { return nil }

type stubStatsSource struct {
	statsFn func(ctx context.Context, now time.Time) (domain.RetryStats, error)
}

func (s *stubStatsSource) Policy() domain.RetryPolicy { return domain.DefaultRetryPolicy() }

func (s *stubStatsSource) Stats(ctx context.Context, now time.Time) (domain.RetryStats, error) {
	return s.statsFn(ctx, now)
}

type stubProviderLister map[domain.Channel][]string

func (s stubProviderLister) ProviderNames() map[domain.Channel][]string { return s }

func newNotificationTestApp(t *testing.T, svc NotificationService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	app.Use(transport.CorrelationID())

	if err := RegisterNotificationRoutes(app, svc); err != nil {
		t.Fatalf("RegisterNotificationRoutes() error = %v", err)
	}

	return app
}

func newServiceTestApp(t *testing.T, publisher queue.Publisher) *fiber.App {
	t.Helper()

	svc, err := service.NewNotificationService(publisher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewNotificationService() error = %v", err)
	}
	return newNotificationTestApp(t, svc)
}

func newMiniredisClient(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }
