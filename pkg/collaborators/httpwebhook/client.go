// Package httpwebhook calls outbound webhooks over HTTP with a circuit breaker
// and a rate limiter per target host.
package httpwebhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerSecond = 10
	maxResponseBytes         = 1 << 20
)

var (
	// ErrUnexpectedStatus is returned for responses with a status of 400 or above.
	ErrUnexpectedStatus = errors.New("unexpected webhook response status")
	// ErrInvalidURL is returned when the target is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid webhook url")
)

// StatusError carries the response of a failed call.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrUnexpectedStatus, e.Status)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Client implements protocol.WebhookClient.
type Client struct {
	httpClient        *http.Client
	requestsPerSecond float64
	breakers          sync.Map // host -> *gobreaker.CircuitBreaker
	limiters          sync.Map // host -> *rate.Limiter
	logger            *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets the per host request rate. Zero or less keeps the default.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.requestsPerSecond = requestsPerSecond
		}
	}
}

func NewClient(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:        &http.Client{},
		requestsPerSecond: defaultRequestsPerSecond,
		logger:            logger.With("module", "webhook_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type response struct {
	status int
	body   string
}

// Call sends the request and returns the response status and body. Bodies that
// are strings are sent as is; anything else is encoded as JSON. Responses with
// status 400 or above are returned together with a *StatusError.
func (c *Client) Call(ctx context.Context, target, method string, headers map[string]string, body any) (int, string, error) {
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidURL, target)
	}

	err = c.limiter(parsed.Host).Wait(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("webhook rate limit wait: %w", err)
	}

	result, err := c.breaker(parsed.Host).Execute(func() (any, error) {
		return c.do(ctx, target, method, headers, body)
	})

	resp, _ := result.(response)

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status, statusErr.Body, err
	}

	if err != nil {
		return 0, "", err
	}

	return resp.status, resp.body, nil
}

func (c *Client) do(ctx context.Context, target, method string, headers map[string]string, body any) (response, error) {
	reader, contentType, err := encodeBody(body)
	if err != nil {
		return response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), target, reader)
	if err != nil {
		return response{}, fmt.Errorf("failed to build webhook request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return response{}, fmt.Errorf("failed to read webhook response: %w", err)
	}

	c.logger.DebugContext(ctx, "Webhook called",
		"method", req.Method,
		"host", req.URL.Host,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= http.StatusBadRequest {
		return response{}, &StatusError{Status: resp.StatusCode, Body: string(data)}
	}

	return response{status: resp.StatusCode, body: string(data)}, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		if v == "" {
			return nil, "", nil
		}

		return strings.NewReader(v), "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode webhook body: %w", err)
		}

		return bytes.NewReader(data), "application/json", nil
	}
}

func (c *Client) breaker(host string) *gobreaker.CircuitBreaker {
	if cb, ok := c.breakers.Load(host); ok {
		return cb.(*gobreaker.CircuitBreaker)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook-" + host,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// Client errors say nothing about the host's health.
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.Status < http.StatusInternalServerError
			}

			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("Circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	actual, _ := c.breakers.LoadOrStore(host, cb)

	return actual.(*gobreaker.CircuitBreaker)
}

func (c *Client) limiter(host string) *rate.Limiter {
	if limiter, ok := c.limiters.Load(host); ok {
		return limiter.(*rate.Limiter)
	}

	burst := max(int(c.requestsPerSecond*2), 1)
	actual, _ := c.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(c.requestsPerSecond), burst))

	return actual.(*rate.Limiter)
}
