package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"codestreak/backend/api"
	"codestreak/backend/memory"
	"codestreak/internal/cache"
	"codestreak/internal/credentials"
	"codestreak/internal/metrics"
	"codestreak/internal/ratelimit"
)

// APIEnv wires the real client stack (token store, API client, cache) to a
// FakeAPI for feature-level tests.
type APIEnv struct {
	Fake    *FakeAPI
	Client  *api.Client
	Keyring *credentials.MockKeyring
	Tokens  *credentials.Manager
	Store   *memory.Backend
	Cache   *cache.Manager
	Metrics *metrics.Metrics
}

// NewAPIEnv creates an isolated environment. Nobody is signed in.
func NewAPIEnv(t *testing.T) *APIEnv {
	t.Helper()

	fake := NewFakeAPI(t)
	kr := credentials.NewMockKeyring()
	tokens := credentials.NewManager(
		credentials.WithKeyring(kr),
		credentials.WithEnv(func(string) string { return "" }),
	)
	m := metrics.New()
	nop := zerolog.Nop()

	store := memory.New()
	c := cache.NewManager(store, cache.WithMetrics(m), cache.WithLogger(nop))

	client := api.New(api.Config{
		BaseURL: fake.URL(),
		Tokens:  tokens,
		HTTP: ratelimit.NewClient(ratelimit.Config{
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
			MaxDelay:   time.Millisecond,
		}),
		Metrics:          m,
		Logger:           &nop,
		FailureThreshold: 1000,
	})

	return &APIEnv{
		Fake:    fake,
		Client:  client,
		Keyring: kr,
		Tokens:  tokens,
		Store:   store,
		Cache:   c,
		Metrics: m,
	}
}

// SignIn stores a valid session for username without going through login.
func (e *APIEnv) SignIn(t *testing.T, username string) string {
	t.Helper()
	ctx := context.Background()
	token := e.Fake.IssueToken(username)
	if err := e.Tokens.SetToken(ctx, token); err != nil {
		t.Fatalf("store token: %v", err)
	}
	if err := e.Cache.SetString(ctx, cache.FlagUsername, username); err != nil {
		t.Fatalf("store username: %v", err)
	}
	return token
}
