package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrNotLoggedIn returns an error for commands that need a session.
func ErrNotLoggedIn() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("not logged in"),
		Suggestion: "Run 'codestreak login' to sign in",
	}
}

// ErrSessionExpired returns an error when the server rejected the stored token.
func ErrSessionExpired() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("session expired or revoked"),
		Suggestion: "Run 'codestreak login' to sign in again",
	}
}

// ErrFriendNotFound returns an error when a username is not in the friends list.
func ErrFriendNotFound(username string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("friend not found: %s", username),
		Suggestion: "Use 'codestreak friends' to see your friends",
	}
}

// ErrUnknownCacheGroup returns an error for an invalidation group that does not exist.
func ErrUnknownCacheGroup(group string, valid []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("unknown cache group: %s", group),
		Suggestion: fmt.Sprintf("Valid groups: %s", strings.Join(valid, ", ")),
	}
}

// ErrInvalidQuality returns an error for a revision grade outside 0-5.
func ErrInvalidQuality(quality int) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid quality: %d", quality),
		Suggestion: "Quality must be between 0 (forgot) and 5 (perfect recall)",
	}
}

// ErrServerOffline returns an error when the API is unreachable, with smart suggestions.
func ErrServerOffline(baseURL, reason string) error {
	suggestion := getSmartSuggestion(reason)
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("server %s is unreachable: %s", baseURL, reason),
		Suggestion: suggestion,
	}
}

// getSmartSuggestion returns a context-aware suggestion based on the error reason.
func getSmartSuggestion(reason string) string {
	lowerReason := strings.ToLower(reason)

	if strings.Contains(lowerReason, "no such host") || strings.Contains(lowerReason, "dns") {
		return "Check your DNS settings and internet connection"
	}

	if strings.Contains(lowerReason, "connection refused") {
		return "Check if the server is running and that api.base_url is correct"
	}

	if strings.Contains(lowerReason, "timeout") || strings.Contains(lowerReason, "i/o timeout") {
		return "The server may be slow or unreachable. Try again later"
	}

	if strings.Contains(lowerReason, "circuit breaker") {
		return "Too many recent failures; cached data is shown. Try again in a minute"
	}

	return "Check your internet connection and try again"
}

// ErrAuthenticationFailed returns an error when login or registration is rejected.
func ErrAuthenticationFailed(reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("authentication failed: %s", reason),
		Suggestion: "Verify your username and password",
	}
}

// ErrKeyringUnavailable returns an error when the OS secret store cannot be used.
func ErrKeyringUnavailable(err error) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("secure token store unavailable: %w", err),
		Suggestion: "Install a Secret Service provider (e.g. gnome-keyring) or set CODESTREAK_TOKEN",
	}
}

// ErrTokenFromEnvironment returns an error when signing out leaves a token
// supplied by CODESTREAK_TOKEN in place.
func ErrTokenFromEnvironment() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("session token is still set by CODESTREAK_TOKEN"),
		Suggestion: "Unset CODESTREAK_TOKEN to sign out",
	}
}
