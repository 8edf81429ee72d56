package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
)

// ErrUnauthorized is matched (errors.Is) by every 401 response and by calls
// made without a session token.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNoToken is returned before any request is sent when no session token is stored.
var ErrNoToken = fmt.Errorf("%w: no session token", ErrUnauthorized)

// ErrCircuitOpen is returned while the circuit breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open: server unavailable")

// Error is a non-2xx response from the API.
type Error struct {
	Status   int
	Message  string
	Endpoint string
}

func (e *Error) Error() string {
	if e.Endpoint == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Message)
}

// Is makes 401 responses match ErrUnauthorized.
func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// IsServerError reports whether the response was a 5xx.
func (e *Error) IsServerError() bool {
	return e.Status >= 500
}

// errorMessageFields are checked in order for a human readable message.
var errorMessageFields = []string{"message", "error", "detail"}

// newError builds an Error from a response body.
func newError(endpoint string, status int, body []byte) *Error {
	return &Error{
		Status:   status,
		Message:  errorMessage(status, body),
		Endpoint: endpoint,
	}
}

func errorMessage(status int, body []byte) string {
	var payload map[string]any
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		for _, field := range errorMessageFields {
			if s, ok := payload[field].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	text := http.StatusText(status)
	if text == "" {
		text = fmt.Sprintf("status %d", status)
	}
	return "request failed: " + text
}

// StatusCode extracts the HTTP status from err, or 0 if err is not an *Error.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
