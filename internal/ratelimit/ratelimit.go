// Package ratelimit provides the HTTP transport for the codestreak API:
// a client-side request budget plus retry with backoff on HTTP 429.
package ratelimit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds configuration for the rate-limiting HTTP client.
type Config struct {
	// MaxRetries is the maximum number of retry attempts after receiving 429.
	// Default: 5
	MaxRetries int

	// BaseDelay is the initial delay before the first retry.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	// Default: 32 seconds
	MaxDelay time.Duration

	// EnableJitter adds random jitter (±20%) to prevent thundering herd.
	EnableJitter bool

	// RequestsPerSecond caps outgoing requests before the server has to say 429.
	// Zero disables the client-side limiter.
	RequestsPerSecond float64

	// Burst is the limiter bucket size. Default: 1 per requested second, minimum 1.
	Burst int

	// Timeout bounds each attempt. Zero means no timeout.
	Timeout time.Duration

	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client

	// Stats is an optional stats tracker for recording rate limit events.
	Stats *Stats

	// Service name for error messages and logging.
	Service string
}

// Client is an HTTP client that handles rate limiting with exponential backoff.
type Client struct {
	httpClient   *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	enableJitter bool
	stats        *Stats
	service      string
}

// NewClient creates a new rate-limiting HTTP client with the given configuration.
func NewClient(cfg Config) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 1 * time.Second
	}

	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 32 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(math.Ceil(cfg.RequestsPerSecond))
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient:   httpClient,
		limiter:      limiter,
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		enableJitter: cfg.EnableJitter,
		stats:        cfg.Stats,
		service:      cfg.Service,
	}
}

// Do performs an HTTP request with automatic retry on rate limiting (429 responses).
func (c *Client) Do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	return c.DoWithHeader(ctx, method, url, body, nil)
}

// DoWithHeader is Do with request headers applied to every attempt.
// It waits on the client-side limiter before each attempt, honors the
// Retry-After header and otherwise backs off exponentially.
func (c *Client) DoWithHeader(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error) {
	// Buffer the body so it can be re-sent on retry
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	var lastRetryAfter time.Duration
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		_ = resp.Body.Close()

		if c.stats != nil {
			c.stats.RecordRateLimit()
		}

		if attempt >= c.maxRetries {
			break
		}

		retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"))
		delay := c.calculateBackoff(attempt, retryAfter)
		lastRetryAfter = delay

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if lastRetryAfter == 0 {
		lastRetryAfter = c.baseDelay
	}
	return nil, &RateLimitError{
		Service:     c.service,
		RetryAfter:  lastRetryAfter,
		Attempt:     c.maxRetries,
		MaxAttempts: c.maxRetries,
	}
}

// calculateBackoff computes the backoff duration for a given attempt.
func (c *Client) calculateBackoff(attempt int, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil {
		return *retryAfter
	}

	// Exponential backoff: base * 2^attempt
	delay := c.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}

	if c.enableJitter {
		jitterFactor := 0.8 + rand.Float64()*0.4 // 0.8 to 1.2
		delay = time.Duration(float64(delay) * jitterFactor)
	}

	return delay
}

// RateLimitError represents an error when rate limit retries are exhausted.
type RateLimitError struct {
	Service     string
	RetryAfter  time.Duration
	Attempt     int
	MaxAttempts int
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	service := e.Service
	if service == "" {
		service = "API"
	}
	return fmt.Sprintf("%s rate limit exceeded after %d retries (max %d)", service, e.Attempt, e.MaxAttempts)
}

// ParseRetryAfter parses the Retry-After header value.
// It supports both seconds format (integer) and HTTP-date format.
// Returns nil if the value is invalid or empty.
func ParseRetryAfter(value string) *time.Duration {
	if value == "" {
		return nil
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return nil
		}
		d := time.Duration(seconds) * time.Second
		return &d
	}

	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}

	return nil
}

// Stats tracks rate limit statistics.
type Stats struct {
	mu              sync.RWMutex
	rateLimitCount  int64
	lastRateLimitAt time.Time
	onRateLimit     func()
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// OnRateLimit registers a hook called on every 429 (metrics).
func (s *Stats) OnRateLimit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRateLimit = fn
}

// RecordRateLimit records a rate limit event.
func (s *Stats) RecordRateLimit() {
	s.mu.Lock()
	s.rateLimitCount++
	s.lastRateLimitAt = time.Now()
	hook := s.onRateLimit
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// RateLimitCount returns the total number of rate limit events.
func (s *Stats) RateLimitCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rateLimitCount
}

// LastRateLimitTime returns the time of the last rate limit event.
func (s *Stats) LastRateLimitTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRateLimitAt
}
