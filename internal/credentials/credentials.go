// Package credentials stores the session token in the OS-native keyring,
// with a read-only fallback to the CODESTREAK_TOKEN environment variable.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// Keyring coordinates for the session token.
const (
	ServiceName  = "codestreak"
	TokenAccount = "session"

	// TokenEnvVar supplies a token without touching the keyring (CI, containers).
	TokenEnvVar = "CODESTREAK_TOKEN"
)

var (
	// ErrNotFound is returned by a Keyring when no secret is stored.
	ErrNotFound = errors.New("secret not found in keyring")
	// ErrKeyringNotAvailable is returned when the OS keyring cannot be reached.
	ErrKeyringNotAvailable = errors.New("system keyring not available")
)

// Source indicates where the token was retrieved from
type Source string

const (
	SourceKeyring     Source = "keyring"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// TokenInfo describes the current token without exposing it in output.
type TokenInfo struct {
	Source Source
	Token  string
	Found  bool
}

// JSON serializes the token info to JSON (token excluded for security)
func (i *TokenInfo) JSON() ([]byte, error) {
	output := struct {
		Source string `json:"source"`
		Found  bool   `json:"found"`
	}{
		Source: string(i.Source),
		Found:  i.Found,
	}
	return json.Marshal(output)
}

// Keyring is the interface for keyring operations
type Keyring interface {
	Set(service, account, password string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager owns the single session token.
// At most one token is stored; absence means not authenticated.
type Manager struct {
	keyring Keyring
	getenv  func(string) string
}

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// WithEnv replaces os.Getenv for the environment fallback.
func WithEnv(getenv func(string) string) ManagerOption {
	return func(m *Manager) {
		m.getenv = getenv
	}
}

// NewManager creates a new token manager backed by the system keyring
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring: &systemKeyring{},
		getenv:  os.Getenv,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetToken stores the token, replacing any previous one.
func (m *Manager) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token cannot be empty")
	}
	if err := m.keyring.Set(ServiceName, TokenAccount, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// Lookup retrieves the token from available sources (keyring first, then env var).
// A missing token is not an error.
func (m *Manager) Lookup(ctx context.Context) (*TokenInfo, error) {
	token, err := m.keyring.Get(ServiceName, TokenAccount)
	if err == nil && token != "" {
		return &TokenInfo{Source: SourceKeyring, Token: token, Found: true}, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrKeyringNotAvailable) {
		return nil, fmt.Errorf("read token: %w", err)
	}

	if envToken := strings.TrimSpace(m.getenv(TokenEnvVar)); envToken != "" {
		return &TokenInfo{Source: SourceEnvironment, Token: envToken, Found: true}, nil
	}

	return &TokenInfo{Source: SourceNone}, nil
}

// Token returns the current token, or "" when not authenticated.
// It satisfies the api client's token source.
func (m *Manager) Token(ctx context.Context) (string, error) {
	info, err := m.Lookup(ctx)
	if err != nil {
		return "", err
	}
	return info.Token, nil
}

// DeleteToken removes the token from the keyring. Idempotent.
func (m *Manager) DeleteToken(ctx context.Context) error {
	err := m.keyring.Delete(ServiceName, TokenAccount)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// IsAuthenticated reports whether any token source is populated.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	info, err := m.Lookup(ctx)
	return err == nil && info.Found
}
