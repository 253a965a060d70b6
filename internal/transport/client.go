// Package transport provides the shared outbound HTTP client. Every call
// to an external endpoint goes through one Client so that retries and
// circuit breaking are applied uniformly instead of per call site.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/aria/internal/infra"
	"github.com/haasonsaas/aria/internal/retry"
)

// ErrAuthFailed is returned for 401/403 responses. Auth failures are never
// retried and are not counted toward the endpoint's circuit breaker: a bad
// credential says nothing about endpoint health.
var ErrAuthFailed = errors.New("authentication failed")

// ErrUnknownEndpoint is returned for a call to an endpoint that was never
// registered.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// HTTPError is a non-2xx response that survived the retry policy.
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Endpoint, e.StatusCode, truncate(e.Body, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Endpoint describes one external service the client may call.
type Endpoint struct {
	// Name identifies the endpoint in breaker stats and metrics.
	Name string
	// BaseURL is prepended to request paths.
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds a single attempt. Zero means 30 seconds.
	Timeout time.Duration
}

// Observer receives the outcome of every completed request. Implemented by
// the metrics layer; a nil observer is valid.
type Observer interface {
	ObserveRequest(endpoint, method string, statusCode int, duration time.Duration)
}

// Config configures the transport client.
type Config struct {
	Retry    retry.Config
	Breakers *infra.CircuitBreakerRegistry
	Observer Observer
	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// Client is the shared outbound HTTP client. Safe for concurrent use.
type Client struct {
	endpoints map[string]Endpoint
	breakers  *infra.CircuitBreakerRegistry
	retryCfg  retry.Config
	observer  Observer
	http      *http.Client
	logger    *slog.Logger
}

// NewClient creates a transport client over the given endpoints.
func NewClient(config Config, endpoints ...Endpoint) *Client {
	if config.Breakers == nil {
		config.Breakers = infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{})
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultConfig()
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	eps := make(map[string]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		if ep.Timeout <= 0 {
			ep.Timeout = 30 * time.Second
		}
		eps[ep.Name] = ep
	}

	return &Client{
		endpoints: eps,
		breakers:  config.Breakers,
		retryCfg:  config.Retry,
		observer:  config.Observer,
		http:      config.HTTPClient,
		logger:    slog.Default().With("component", "transport"),
	}
}

// Register adds or replaces an endpoint.
func (c *Client) Register(ep Endpoint) {
	if ep.Timeout <= 0 {
		ep.Timeout = 30 * time.Second
	}
	c.endpoints[ep.Name] = ep
}

// Breaker returns the circuit breaker guarding an endpoint.
func (c *Client) Breaker(endpoint string) *infra.CircuitBreaker {
	return c.breakers.Get(endpoint)
}

// Request performs an HTTP call against a registered endpoint and returns
// the response body.
//
// Transport errors and 5xx responses are retried with exponential backoff
// and full jitter. A request that still fails after the retry policy counts
// as exactly one breaker failure, no matter how many attempts it took. 4xx
// responses are never retried. 401 and 403 return ErrAuthFailed without
// touching the breaker. While the endpoint's circuit is open the call fails
// immediately with infra.ErrCircuitOpen.
func (c *Client) Request(ctx context.Context, endpoint, method, path string, body []byte) ([]byte, error) {
	ep, ok := c.endpoints[endpoint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}
	cb := c.breakers.Get(endpoint)

	var respBody []byte
	result := retry.Do(ctx, c.retryCfg, func() error {
		if err := cb.Allow(); err != nil {
			return retry.Permanent(err)
		}

		data, err := c.attempt(ctx, ep, method, path, body)
		if err == nil {
			cb.RecordSuccess()
			respBody = data
			return nil
		}

		var httpErr *HTTPError
		switch {
		case errors.Is(err, ErrAuthFailed):
			return retry.Permanent(err)
		case errors.As(err, &httpErr) && httpErr.StatusCode < 500:
			return retry.Permanent(err)
		default:
			return err
		}
	})

	if result.Err != nil {
		// One failed request is one breaker failure, regardless of how
		// many attempts were made. Auth failures and open-circuit
		// rejections never count.
		if !errors.Is(result.Err, ErrAuthFailed) && !errors.Is(result.Err, infra.ErrCircuitOpen) {
			cb.RecordFailure()
		}
		if result.Attempts > 1 {
			c.logger.Warn("request failed after retries",
				"endpoint", endpoint, "method", method, "path", path,
				"attempts", result.Attempts, "error", result.Err)
		}
		return nil, result.Err
	}
	return respBody, nil
}

// attempt performs a single HTTP exchange.
func (c *Client) attempt(ctx context.Context, ep Endpoint, method, path string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	url := strings.TrimSuffix(ep.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(ep.Name, method, 0, time.Since(start))
		return nil, fmt.Errorf("%s: %w", ep.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	c.observe(ep.Name, method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", ep.Name, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s returned %d", ErrAuthFailed, ep.Name, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, &HTTPError{Endpoint: ep.Name, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func (c *Client) observe(endpoint, method string, statusCode int, duration time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(endpoint, method, statusCode, duration)
	}
}
