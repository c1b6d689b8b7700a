// Package httpclient provides a resilient JSON HTTP client shared by the
// broker gateway and the policy client.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/runnelsdev/copybridge/pkg/telemetry"
)

// APIError represents a non-2xx API response.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Authorizer mutates outbound requests with credentials (session token,
// bearer token). Called on every request, after retries rebuild it.
type Authorizer interface {
	Authorize(req *http.Request) error
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(req *http.Request) error

func (f AuthorizerFunc) Authorize(req *http.Request) error { return f(req) }

// Options tune the resilience pipeline.
type Options struct {
	Timeout     time.Duration
	MaxRetries  int
	NoRetry     bool // fire-and-forget endpoints use a bare client
	NoBreaker   bool
}

// Client wraps http.Client with a failsafe retry + circuit-breaker pipeline.
type Client struct {
	client   *http.Client
	baseURL  string
	auth     Authorizer
	pipeline failsafe.Executor[*http.Response]

	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a client for baseURL with the default resilience policies:
// retry on network errors, 5xx and 429, and a breaker on consecutive 5xx.
func NewClient(baseURL string, opts Options, auth Authorizer) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}

	var policies []failsafe.Policy[*http.Response]
	if !opts.NoRetry {
		policies = append(policies, retrypolicy.NewBuilder[*http.Response]().
			HandleIf(func(resp *http.Response, err error) bool {
				if err != nil {
					return true
				}
				return resp.StatusCode >= 500 || resp.StatusCode == 429
			}).
			WithBackoff(100*time.Millisecond, 2*time.Second).
			WithMaxRetries(opts.MaxRetries).
			Build())
	}
	if !opts.NoBreaker {
		policies = append(policies, circuitbreaker.NewBuilder[*http.Response]().
			HandleIf(func(resp *http.Response, err error) bool {
				if err != nil {
					return true
				}
				return resp.StatusCode >= 500
			}).
			WithFailureThresholdRatio(5, 10).
			WithDelay(10 * time.Second).
			Build())
	}

	meter := telemetry.GetMeter("http-client")
	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		client:      &http.Client{Timeout: opts.Timeout},
		baseURL:     baseURL,
		auth:        auth,
		pipeline:    failsafe.With[*http.Response](policies...),
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// Get sends a GET request and returns the response body.
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()
	return c.do(req, nil)
}

// Post sends a JSON POST request and returns the response body.
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, jsonBody)
}

// Delete sends a DELETE request and returns the response body.
func (c *Client) Delete(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, body []byte) ([]byte, error) {
	start := time.Now()
	ctx := req.Context()

	attrs := metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	)
	c.reqCounter.Add(ctx, 1, attrs)

	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		// Rebuild the request per attempt: bodies are single-use.
		attemptReq := req.Clone(ctx)
		if body != nil {
			attemptReq.Body = io.NopCloser(bytes.NewReader(body))
		}
		if c.auth != nil {
			if authErr := c.auth.Authorize(attemptReq); authErr != nil {
				return nil, fmt.Errorf("failed to authorize request: %w", authErr)
			}
		}
		return c.client.Do(attemptReq)
	})

	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		c.errCounter.Add(ctx, 1, attrs)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, attrs)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}
