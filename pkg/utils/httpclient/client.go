// Package httpclient provides an HTTP client with bounded retries, trace
// propagation and a response size cap.
package httpclient

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/kart-io/sentinel-rag/pkg/llm/resilience"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client is a wrapper around http.Client with additional functionality.
type Client struct {
	httpClient *http.Client
	retry      *resilience.RetryConfig
	userAgent  string
	maxBody    int64
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithMaxBodyBytes caps the bytes read from a response body; 0 disables.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) { c.maxBody = n }
}

// WithSleep replaces the backoff wait, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.retry.Sleep = sleep }
}

// WithTransport sets the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.httpClient.Transport = rt }
}

// NewClient creates a client making up to maxAttempts attempts per request,
// waiting 1s, 2s, 4s... between them. Each attempt is bounded by timeout.
func NewClient(timeout time.Duration, maxAttempts int, opts ...Option) *Client {
	retry := resilience.ExponentialRetryConfig(maxAttempts)
	retry.RetryableErrors = isRetryable

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func isRetryable(err error) bool {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.Retryable()
	}
	return !stderrors.Is(err, context.Canceled)
}

// Response is a fully read response.
type Response struct {
	// URL is the final URL after redirects.
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Get fetches url and reads the whole body. Transport errors, 429 and 5xx
// responses are retried; other non-2xx responses fail at once with a
// *StatusError.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	var out *Response
	attempt := 0
	err := resilience.RetryWithBackoff(ctx, c.retry, func() error {
		attempt++
		resp, err := c.get(ctx, url)
		if err != nil {
			logger.Warnw("request failed", "url", url, "attempt", attempt, "error", err.Error())
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if c.maxBody > 0 {
		body = io.LimitReader(resp.Body, c.maxBody)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// DoRequest executes req with the retry policy and returns the first
// response that is not retryable. The caller closes the body.
func (c *Client) DoRequest(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		if bodyBytes, err = io.ReadAll(req.Body); err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		_ = req.Body.Close()
	}

	var out *http.Response
	err := resilience.RetryWithBackoff(req.Context(), c.retry, func() error {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
		resp, err := c.do(req)
		if err != nil {
			return err
		}
		if se := (&StatusError{URL: req.URL.String(), StatusCode: resp.StatusCode}); se.Retryable() {
			_ = resp.Body.Close()
			return se
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	c.injectTraceContext(req)
	return c.httpClient.Do(req)
}

// injectTraceContext 将 W3C Trace Context 头注入到 HTTP 请求中。
// 请求为 nil、未设置全局传播器或 Context 中无活跃 Span 时不注入。
func (c *Client) injectTraceContext(req *http.Request) {
	if req == nil || req.Context() == nil {
		return
	}

	propagator := otel.GetTextMapPropagator()
	if propagator == nil {
		return
	}
	propagator.Inject(req.Context(), propagation.HeaderCarrier(req.Header))
}
