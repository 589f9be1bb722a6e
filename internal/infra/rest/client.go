// Package rest is the JSON-over-HTTP client shared by the Notion, respond.io
// and Anthropic adapters.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/metrics"
)

// DefaultTimeout bounds every outbound call.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 4096

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	Headers map[string]string
	// RatePerSecond paces requests. Zero disables pacing.
	RatePerSecond float64
	Burst         int
}

// Client is a small JSON API client with bounded timeouts and request pacing.
type Client struct {
	name       string
	baseURL    string
	headers    http.Header
	httpClient *http.Client
	limiter    *rate.Limiter

	mu           sync.RWMutex
	requestCount int
	failureCount int
	totalLatency time.Duration
	lastError    string
}

// New creates a client for baseURL.
func New(name, baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: limiter,
	}
}

// Name returns the client name used in errors and metrics.
func (c *Client) Name() string {
	return c.name
}

// Do sends body (JSON encoded when non-nil) and decodes a 2xx response into out
// (when non-nil). Non-2xx responses return a *StatusError; transport failures
// wrap domain.ErrUnavailable.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s rate limiter: %w", c.name, err)
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s marshal request: %w", c.name, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s create request: %w", c.name, err)
	}
	req.Header = c.headers.Clone()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	metrics.HTTPLatency.WithLabelValues(c.name).Observe(latency.Seconds())
	if err != nil {
		c.recordFailure(latency, err.Error())
		metrics.HTTPRequestsTotal.WithLabelValues(c.name, "error").Inc()
		return fmt.Errorf("%s %s %s: %w: %w", c.name, method, path, domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	metrics.HTTPRequestsTotal.WithLabelValues(c.name, statusClass(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &StatusError{
			Client:     c.name,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(data),
			RetryAfter: resp.Header.Get("Retry-After"),
		}
		c.recordFailure(latency, serr.Error())
		return serr
	}

	c.recordSuccess(latency)

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s parse response: %w", c.name, err)
	}
	return nil
}

// Stats is a snapshot of client counters.
type Stats struct {
	Requests       int
	Failures       int
	AverageLatency time.Duration
	LastError      string
}

// Stats returns the current counters.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Requests:  c.requestCount,
		Failures:  c.failureCount,
		LastError: c.lastError,
	}
	if c.requestCount > 0 {
		s.AverageLatency = c.totalLatency / time.Duration(c.requestCount)
	}
	return s
}

func (c *Client) recordSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestCount++
	c.totalLatency += latency
}

func (c *Client) recordFailure(latency time.Duration, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestCount++
	c.failureCount++
	c.totalLatency += latency
	c.lastError = msg
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
