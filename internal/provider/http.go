package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPOptions tunes the resty client shared by the HTTP-based backends.
type HTTPOptions struct {
	Timeout time.Duration
	// RateLimitPerSec caps outbound calls per backend; zero disables it.
	RateLimitPerSec float64
	// BaseURL overrides the provider's public endpoint, mainly for tests.
	BaseURL string
}

func newRestyClient(opts HTTPOptions) *resty.Client {
	client := resty.New()
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	if opts.RateLimitPerSec > 0 {
		burst := int(opts.RateLimitPerSec)
		if burst < 1 {
			burst = 1
		}
		client.SetRateLimiter(rate.NewLimiter(rate.Limit(opts.RateLimitPerSec), burst))
	}
	return client
}

func baseURLOr(opts HTTPOptions, fallback string) string {
	if u := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); u != "" {
		return u
	}
	return fallback
}

// requestError converts a transport-level resty failure.
func requestError(name string, err error) error {
	return &ProviderError{
		Provider:  name,
		Message:   "provider request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

// checkResponse maps an HTTP response to a ProviderResponse or a
// classified ProviderError.
func checkResponse(name string, response *resty.Response, err error) (*ProviderResponse, error) {
	if err != nil {
		return nil, requestError(name, err)
	}
	if response == nil {
		return nil, &ProviderError{
			Provider:  name,
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  providerMessageID(response),
		}, nil
	}

	return nil, &ProviderError{
		Provider:   name,
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody] + "..."
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-Id", "X-Request-ID", "X-Request-Id", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}

func requireFields(name string, fields map[string]string) error {
	var missing []string
	for field, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s missing %s", ErrNotConfigured, name, strings.Join(missing, ", "))
}
