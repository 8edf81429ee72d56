package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"codestreak/backend"
	"codestreak/internal/metrics"
	"codestreak/internal/ratelimit"
)

// =============================================================================
// Mock API Server for Tests
// =============================================================================

type mockServer struct {
	server     *httptest.Server
	mu         sync.Mutex
	requestLog []string
	authLog    []string
	bodies     []string
	handlers   map[string]http.HandlerFunc
}

func newMockServer() *mockServer {
	m := &mockServer{handlers: make(map[string]http.HandlerFunc)}
	m.server = httptest.NewServer(http.HandlerFunc(m.handler))
	return m
}

func (m *mockServer) Close() { m.server.Close() }

func (m *mockServer) URL() string { return m.server.URL }

// Handle registers a handler for "METHOD /escaped/path".
func (m *mockServer) Handle(route string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[route] = h
}

// JSON registers a handler that always answers with status and v.
func (m *mockServer) JSON(route string, status int, v any) {
	m.Handle(route, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	})
}

func (m *mockServer) GetRequestLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.requestLog...)
}

func (m *mockServer) Auth(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authLog[i]
}

func (m *mockServer) Body(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bodies[i]
}

func (m *mockServer) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	route := r.Method + " " + r.URL.EscapedPath()

	m.mu.Lock()
	m.requestLog = append(m.requestLog, route)
	m.authLog = append(m.authLog, r.Header.Get("Authorization"))
	m.bodies = append(m.bodies, string(body))
	h, ok := m.handlers[route]
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no such route"}`))
		return
	}
	h(w, r)
}

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func newTestClient(t *testing.T, m *mockServer, tokens TokenSource) *Client {
	t.Helper()
	return New(Config{
		BaseURL: m.URL(),
		Tokens:  tokens,
		HTTP: ratelimit.NewClient(ratelimit.Config{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		}),
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
	})
}

// =============================================================================
// Tests
// =============================================================================

func TestLoginSendsCredentialsWithoutToken(t *testing.T) {
	m := newMockServer()
	defer m.Close()
	m.JSON("POST /api/auth/login", http.StatusOK, backend.Session{
		Token: "tok-1",
		User:  backend.UserStats{Username: "alice", CurrentStreak: 4},
	})

	c := newTestClient(t, m, staticToken("stale"))
	session, err := c.Login(context.Background(), "alice", "s3cret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.Token != "tok-1" || session.User.Username != "alice" {
		t.Errorf("session = %+v", session)
	}
	if m.Auth(0) != "" {
		t.Errorf("login sent Authorization %q, want none", m.Auth(0))
	}

	var sent loginRequest
	if err := json.Unmarshal([]byte(m.Body(0)), &sent); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if sent.Username != "alice" || sent.Password != "s3cret" {
		t.Errorf("login body = %+v", sent)
	}
}

func TestBearerTokenOnAuthenticatedRequests(t *testing.T) {
	m := newMockServer()
	defer m.Close()
	m.JSON("GET /api/stats/user", http.StatusOK, backend.UserStats{Username: "alice", XP: 120})

	c := newTestClient(t, m, staticToken("tok-1"))
	stats, err := c.UserStats(context.Background())
	if err != nil {
		t.Fatalf("UserStats() error = %v", err)
	}
	if stats.XP != 120 {
		t.Errorf("XP = %d, want 120", stats.XP)
	}
	if m.Auth(0) != "Bearer tok-1" {
		t.Errorf("Authorization = %q", m.Auth(0))
	}
}

func TestMissingTokenSkipsRequest(t *testing.T) {
	m := newMockServer()
	defer m.Close()

	tests := []struct {
		name   string
		tokens TokenSource
	}{
		{"nil source", nil},
		{"empty token", staticToken("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, m, tt.tokens)
			_, err := c.Friends(context.Background())
			if !errors.Is(err, ErrUnauthorized) {
				t.Errorf("error = %v, want ErrUnauthorized", err)
			}
		})
	}
	if got := len(m.GetRequestLog()); got != 0 {
		t.Errorf("server received %d requests, want 0", got)
	}
}

func TestUnauthorizedResponse(t *testing.T) {
	m := newMockServer()
	defer m.Close()
	m.JSON("GET /api/friends", http.StatusUnauthorized, map[string]string{"message": "token expired"})

	c := newTestClient(t, m, staticToken("tok-1"))
	_, err := c.Friends(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if StatusCode(err) != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", StatusCode(err))
	}
	if !strings.Contains(err.Error(), "token expired") {
		t.Errorf("error %q should carry the server message", err)
	}
}

func TestErrorMessageExtraction(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"message field", 400, `{"message":"bad quality"}`, "bad quality"},
		{"error field", 409, `{"error":"already friends"}`, "already friends"},
		{"detail field", 404, `{"detail":"user not found"}`, "user not found"},
		{"message wins over error", 400, `{"error":"e","message":"m"}`, "m"},
		{"blank message falls through", 400, `{"message":"  ","error":"e"}`, "e"},
		{"non-string field ignored", 400, `{"error":{"code":1}}`, "request failed: Bad Request"},
		{"no body", 403, ``, "request failed: Forbidden"},
		{"not json", 404, `<html>nope</html>`, "request failed: Not Found"},
		{"unknown status", 499, ``, "request failed: status 499"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorMessage(tt.status, []byte(tt.body)); got != tt.want {
				t.Errorf("errorMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPathParametersAreEscaped(t *testing.T) {
	m := newMockServer()
	defer m.Close()
	m.JSON("GET /api/users/bob%2Fx/profile", http.StatusOK, backend.Profile{Username: "bob/x"})
	m.JSON("DELETE /api/friends/requests/r%201", http.StatusNoContent, nil)

	c := newTestClient(t, m, staticToken("tok"))
	ctx := context.Background()

	profile, err := c.UserProfile(ctx, "bob/x")
	if err != nil {
		t.Fatalf("UserProfile() error = %v", err)
	}
	if profile.Username != "bob/x" {
		t.Errorf("profile = %+v", profile)
	}
	if err := c.CancelRequest(ctx, "r 1"); err != nil {
		t.Fatalf("CancelRequest() error = %v", err)
	}
}

func TestRevisionModeQuery(t *testing.T) {
	m := newMockServer()
	defer m.Close()

	modes := make(chan string, 1)
	m.Handle("GET /api/revisions", func(w http.ResponseWriter, r *http.Request) {
		modes <- r.URL.Query().Get("mode")
		_ = json.NewEncoder(w).Encode(backend.GroupedRevisions{
			Today: []backend.Revision{{ID: "r1", Title: "Two Sum"}},
		})
	})

	c := newTestClient(t, m, staticToken("tok"))
	grouped, err := c.Revisions(context.Background(), backend.ModeML)
	if err != nil {
		t.Fatalf("Revisions() error = %v", err)
	}
	if gotMode := <-modes; gotMode != "ml" {
		t.Errorf("mode = %q, want ml", gotMode)
	}
	if grouped.Count() != 1 {
		t.Errorf("Count() = %d, want 1", grouped.Count())
	}
}

func TestCompleteRevisionBody(t *testing.T) {
	m := newMockServer()
	defer m.Close()
	m.JSON("POST /api/revisions/r-9/complete", http.StatusOK, map[string]bool{"ok": true})

	c := newTestClient(t, m, staticToken("tok"))
	if err := c.CompleteRevision(context.Background(), "r-9", 4, backend.ModeNormal); err != nil {
		t.Fatalf("CompleteRevision() error = %v", err)
	}

	var sent completeRevisionRequest
	if err := json.Unmarshal([]byte(m.Body(0)), &sent); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if sent.Quality != 4 || sent.Mode != backend.ModeNormal {
		t.Errorf("body = %+v", sent)
	}
}

func TestSubscription(t *testing.T) {
	m := newMockServer()
	defer m.Close()
	m.JSON("GET /api/subscription", http.StatusOK, map[string]bool{"subscribed": true})

	c := newTestClient(t, m, staticToken("tok"))
	subscribed, err := c.Subscription(context.Background())
	if err != nil {
		t.Fatalf("Subscription() error = %v", err)
	}
	if !subscribed {
		t.Error("expected subscribed")
	}
}

func TestRetriesOn429(t *testing.T) {
	m := newMockServer()
	defer m.Close()

	var calls atomic.Int32
	m.Handle("GET /api/friends/streaks", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode([]backend.FriendStreak{{Username: "bob", CurrentStreak: 3}})
	})

	c := newTestClient(t, m, staticToken("tok"))
	streaks, err := c.FriendStreaks(context.Background())
	if err != nil {
		t.Fatalf("FriendStreaks() error = %v", err)
	}
	if len(streaks) != 1 || calls.Load() != 2 {
		t.Errorf("streaks = %v after %d calls", streaks, calls.Load())
	}
}

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	m := newMockServer()
	defer m.Close()
	m.JSON("GET /api/stats/solves", http.StatusBadGateway, map[string]string{"error": "upstream down"})

	c := newTestClient(t, m, staticToken("tok"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.SolveStats(ctx)
		var apiErr *Error
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
			t.Fatalf("call %d: error = %v, want 502 *Error", i, err)
		}
		if apiErr.Message != "upstream down" {
			t.Errorf("message = %q", apiErr.Message)
		}
	}

	_, err := c.SolveStats(ctx)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if got := len(m.GetRequestLog()); got != 3 {
		t.Errorf("server received %d requests, want 3 (open breaker must not call out)", got)
	}
	if c.BreakerState() != "open" {
		t.Errorf("BreakerState() = %q, want open", c.BreakerState())
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	m := newMockServer()
	defer m.Close()
	m.JSON("POST /api/friends/requests", http.StatusNotFound, map[string]string{"detail": "no such user"})

	c := newTestClient(t, m, staticToken("tok"))
	for i := 0; i < 5; i++ {
		err := c.SendFriendRequest(context.Background(), "ghost")
		if StatusCode(err) != http.StatusNotFound {
			t.Fatalf("call %d: error = %v, want 404", i, err)
		}
	}
	if c.BreakerState() != "closed" {
		t.Errorf("BreakerState() = %q, want closed", c.BreakerState())
	}
}

func TestTransportErrorNamesEndpoint(t *testing.T) {
	m := newMockServer()
	url := m.URL()
	m.Close()

	c := New(Config{BaseURL: url, Tokens: staticToken("tok")})
	_, err := c.UserStats(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !strings.Contains(err.Error(), "GET /api/stats/user") {
		t.Errorf("error %q should name the endpoint", err)
	}
	if StatusCode(err) != 0 {
		t.Errorf("StatusCode = %d, want 0", StatusCode(err))
	}
}

func TestRequestMetrics(t *testing.T) {
	m := newMockServer()
	defer m.Close()
	m.JSON("GET /api/users/alice/solves", http.StatusOK, []backend.Solve{})
	m.JSON("GET /api/users/bob/solves", http.StatusOK, []backend.Solve{})

	mt := metrics.New()
	c := New(Config{BaseURL: m.URL(), Tokens: staticToken("tok"), Metrics: mt})
	ctx := context.Background()
	if _, err := c.UserSolves(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.UserSolves(ctx, "bob"); err != nil {
		t.Fatal(err)
	}

	samples, err := mt.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, s := range samples {
		if s.Name == "codestreak_api_requests_total" &&
			s.Labels == "endpoint=GET /api/users/{username}/solves,status=200" {
			found = true
			if s.Value != 2 {
				t.Errorf("requests = %v, want 2 (route label must not include the username)", s.Value)
			}
		}
	}
	if !found {
		t.Errorf("api_requests_total sample missing: %+v", samples)
	}
}
