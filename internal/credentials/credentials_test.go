package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func noEnv(string) string { return "" }

// TestSetTokenStoresInKeyring verifies the token lands under the session account
func TestSetTokenStoresInKeyring(t *testing.T) {
	mockKeyring := NewMockKeyring()
	manager := NewManager(WithKeyring(mockKeyring), WithEnv(noEnv))

	if err := manager.SetToken(context.Background(), "  tok-123 \n"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	stored, err := mockKeyring.Get(ServiceName, TokenAccount)
	if err != nil {
		t.Fatalf("Keyring Get failed: %v", err)
	}
	if stored != "tok-123" {
		t.Errorf("Expected trimmed token 'tok-123', got '%s'", stored)
	}
}

// TestSetTokenReplaces verifies at most one token is stored
func TestSetTokenReplaces(t *testing.T) {
	manager := NewManager(WithKeyring(NewMockKeyring()), WithEnv(noEnv))
	ctx := context.Background()

	_ = manager.SetToken(ctx, "first")
	_ = manager.SetToken(ctx, "second")

	token, err := manager.Token(ctx)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "second" {
		t.Errorf("Token() = %q, want second", token)
	}
}

// TestSetTokenEmpty verifies empty tokens are rejected
func TestSetTokenEmpty(t *testing.T) {
	manager := NewManager(WithKeyring(NewMockKeyring()), WithEnv(noEnv))
	if err := manager.SetToken(context.Background(), "   "); err == nil {
		t.Error("expected error for empty token")
	}
}

// TestLookupSources verifies keyring precedence over the environment
func TestLookupSources(t *testing.T) {
	tests := []struct {
		name       string
		keyring    string
		env        string
		keyringErr error
		wantSource Source
		wantToken  string
	}{
		{"keyring only", "k-tok", "", nil, SourceKeyring, "k-tok"},
		{"keyring beats env", "k-tok", "e-tok", nil, SourceKeyring, "k-tok"},
		{"env fallback", "", "e-tok", nil, SourceEnvironment, "e-tok"},
		{"keyring unavailable uses env", "", "e-tok", ErrKeyringNotAvailable, SourceEnvironment, "e-tok"},
		{"nothing", "", "", nil, SourceNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mk := NewMockKeyring()
			if tt.keyring != "" {
				_ = mk.Set(ServiceName, TokenAccount, tt.keyring)
			}
			mk.Err = tt.keyringErr
			manager := NewManager(WithKeyring(mk), WithEnv(func(k string) string {
				if k == TokenEnvVar {
					return tt.env
				}
				return ""
			}))

			info, err := manager.Lookup(context.Background())
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if info.Source != tt.wantSource {
				t.Errorf("Source = %s, want %s", info.Source, tt.wantSource)
			}
			if info.Token != tt.wantToken {
				t.Errorf("Token = %q, want %q", info.Token, tt.wantToken)
			}
			if info.Found != (tt.wantToken != "") {
				t.Errorf("Found = %v", info.Found)
			}
		})
	}
}

// TestLookupUnexpectedError verifies unknown keyring failures surface
func TestLookupUnexpectedError(t *testing.T) {
	mk := NewMockKeyring()
	mk.Err = errors.New("keyring locked")
	manager := NewManager(WithKeyring(mk), WithEnv(noEnv))

	if _, err := manager.Lookup(context.Background()); err == nil {
		t.Error("expected error from locked keyring")
	}
	if manager.IsAuthenticated(context.Background()) {
		t.Error("IsAuthenticated should be false when the keyring errors")
	}
}

// TestDeleteTokenIdempotent verifies delete twice is the same as once
func TestDeleteTokenIdempotent(t *testing.T) {
	manager := NewManager(WithKeyring(NewMockKeyring()), WithEnv(noEnv))
	ctx := context.Background()

	_ = manager.SetToken(ctx, "tok")
	if !manager.IsAuthenticated(ctx) {
		t.Fatal("expected authenticated after SetToken")
	}

	for i := 0; i < 2; i++ {
		if err := manager.DeleteToken(ctx); err != nil {
			t.Fatalf("DeleteToken #%d failed: %v", i+1, err)
		}
	}
	if manager.IsAuthenticated(ctx) {
		t.Error("expected unauthenticated after DeleteToken")
	}
}

// TestTokenInfoJSONHidesToken verifies the token never reaches JSON output
func TestTokenInfoJSONHidesToken(t *testing.T) {
	info := &TokenInfo{Source: SourceKeyring, Token: "super-secret", Found: true}
	out, err := info.JSON()
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}
	if string(out) != `{"source":"keyring","found":true}` {
		t.Errorf("JSON = %s", out)
	}
}

// TestSystemKeyringWithMockProvider exercises the go-keyring adapter
func TestSystemKeyringWithMockProvider(t *testing.T) {
	keyring.MockInit()
	manager := NewManager(WithEnv(noEnv))
	ctx := context.Background()

	if manager.IsAuthenticated(ctx) {
		t.Fatal("fresh mock keyring should hold no token")
	}
	if err := manager.SetToken(ctx, "sys-tok"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	token, err := manager.Token(ctx)
	if err != nil || token != "sys-tok" {
		t.Fatalf("Token() = %q, %v", token, err)
	}
	if err := manager.DeleteToken(ctx); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}
	if err := manager.DeleteToken(ctx); err != nil {
		t.Fatalf("second DeleteToken should be a no-op, got %v", err)
	}
}

// TestMapKeyringError verifies go-keyring errors map to package sentinels
func TestMapKeyringError(t *testing.T) {
	if mapKeyringError(nil) != nil {
		t.Error("nil should stay nil")
	}
	if !errors.Is(mapKeyringError(keyring.ErrNotFound), ErrNotFound) {
		t.Error("keyring.ErrNotFound should map to ErrNotFound")
	}
	if !errors.Is(mapKeyringError(keyring.ErrUnsupportedPlatform), ErrKeyringNotAvailable) {
		t.Error("unsupported platform should map to ErrKeyringNotAvailable")
	}
	if !errors.Is(mapKeyringError(errors.New("dbus failure")), ErrKeyringNotAvailable) {
		t.Error("other failures should map to ErrKeyringNotAvailable")
	}
}
