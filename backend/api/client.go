// Package api is the authenticated REST client for the codestreak service.
//
// Requests go through the ratelimit client (client-side budget, 429 retry)
// and a circuit breaker that opens after consecutive transport or 5xx
// failures, so a dead server fails fast and callers fall back to the cache.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"codestreak/internal/metrics"
	"codestreak/internal/ratelimit"
	"codestreak/internal/utils"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.codestreak.app"

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 30 * time.Second
)

// Response size limits.
const (
	maxResponseBody = 1 << 20
	maxErrorBody    = 64 << 10
)

// TokenSource supplies the session token for authenticated requests.
// An empty token with a nil error means "not logged in".
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config holds configuration for the API client.
type Config struct {
	BaseURL string
	Tokens  TokenSource

	// HTTP performs the requests. Defaults to a ratelimit client with default settings.
	HTTP *ratelimit.Client

	Metrics *metrics.Metrics
	Logger  *zerolog.Logger

	// FailureThreshold is the number of consecutive failures that open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// Client is the codestreak REST client.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *ratelimit.Client
	breaker *gobreaker.CircuitBreaker[*response]
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// response is a fully read HTTP response.
type response struct {
	status int
	body   []byte
}

// New creates a new API client.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = ratelimit.NewClient(ratelimit.Config{Service: "codestreak"})
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultFailureThreshold
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = DefaultOpenTimeout
	}

	log := utils.Log()
	if cfg.Logger != nil {
		log = cfg.Logger
	}

	c := &Client{
		baseURL: baseURL,
		tokens:  cfg.Tokens,
		http:    httpClient,
		metrics: cfg.Metrics,
		log:     log.With().Str("component", "api").Logger(),
	}

	c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "codestreak-api",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
			c.metrics.BreakerState(name, int(to))
		},
	})
	c.metrics.BreakerState("codestreak-api", int(gobreaker.StateClosed))

	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BreakerState reports the circuit breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// isBreakerSuccess counts only transport errors and 5xx responses as failures.
// Cancellation and rate limiting say nothing about server health.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var rlErr *ratelimit.RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return !apiErr.IsServerError()
	}
	return false
}

// request describes one API call. route is the templated path used for
// metrics and error messages ("GET /api/users/{username}/profile").
type request struct {
	method string
	route  string
	path   string
	query  url.Values
	body   any
	auth   bool
}

// do sends req and decodes a 2xx JSON body into out (if non-nil).
func (c *Client) do(ctx context.Context, req request, out any) error {
	endpoint := req.method + " " + req.route

	header := http.Header{}
	header.Set("Accept", "application/json")
	if req.auth {
		if c.tokens == nil {
			return ErrNoToken
		}
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%s: read session token: %w", endpoint, err)
		}
		if token == "" {
			return ErrNoToken
		}
		header.Set("Authorization", "Bearer "+token)
	}

	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", endpoint, err)
		}
		header.Set("Content-Type", "application/json")
	}

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.roundTrip(ctx, req.method, target, payload, header, endpoint)
	})
	elapsed := time.Since(start)

	if err != nil {
		var apiErr *Error
		switch {
		case errors.As(err, &apiErr):
			c.metrics.APIRequest(endpoint, apiErr.Status, elapsed)
			return apiErr
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.metrics.APIRequest(endpoint, 0, elapsed)
			return fmt.Errorf("%s: %w", endpoint, ErrCircuitOpen)
		default:
			c.metrics.APIRequest(endpoint, 0, elapsed)
			return fmt.Errorf("%s: %w", endpoint, err)
		}
	}

	c.metrics.APIRequest(endpoint, resp.status, elapsed)
	if resp.status < 200 || resp.status >= 300 {
		apiErr := newError(endpoint, resp.status, resp.body)
		c.log.Debug().Str("endpoint", endpoint).Int("status", resp.status).Msg(apiErr.Message)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

// roundTrip performs the HTTP exchange inside the breaker. 5xx responses are
// returned as errors so they count against the breaker.
func (c *Client) roundTrip(ctx context.Context, method, target string, payload []byte, header http.Header, endpoint string) (*response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	resp, err := c.http.DoWithHeader(ctx, method, target, body, header)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, newError(endpoint, resp.StatusCode, truncate(data))
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

func truncate(data []byte) []byte {
	if len(data) > maxErrorBody {
		return data[:maxErrorBody]
	}
	return data
}

// get is the common shape of read endpoints.
func get[T any](ctx context.Context, c *Client, route, path string, query url.Values) (T, error) {
	var out T
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  route,
		path:   path,
		query:  query,
		auth:   true,
	}, &out)
	return out, err
}
