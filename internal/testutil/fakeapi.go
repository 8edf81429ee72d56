package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"codestreak/backend"
)

// =============================================================================
// Fake codestreak API server
// =============================================================================

// FakeData is the server-side state served by FakeAPI.
// Mutate it through FakeAPI.Update.
type FakeData struct {
	UserStats        backend.UserStats
	SolveStats       backend.SolveStats
	RecentSolves     []backend.Solve
	AchievementStats backend.AchievementStats
	Freezes          backend.FreezeCalendar
	Subscribed       bool

	Revisions     map[backend.RevisionMode]backend.GroupedRevisions
	RevisionStats map[backend.RevisionMode]backend.RevisionStats

	Friends  []backend.Friend
	Received []backend.FriendRequest
	Sent     []backend.FriendRequest
	Streaks  []backend.FriendStreak

	Profiles         map[string]backend.Profile
	UserSolves       map[string][]backend.Solve
	UserAchievements map[string]backend.AchievementStats

	// Completed records every graded revision as "id:quality".
	Completed []string
}

// FakeAPI simulates the codestreak REST API over httptest.
type FakeAPI struct {
	server *httptest.Server

	mu         sync.Mutex
	passwords  map[string]string
	tokens     map[string]string
	data       FakeData
	failures   map[string]int
	delays     map[string]time.Duration
	requestLog []string
	nextID     int
}

// NewFakeAPI starts a fake server seeded with one user ("alice") and a
// small data set. The server is closed when the test ends.
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		passwords: map[string]string{"alice": "password123"},
		tokens:    make(map[string]string),
		failures:  make(map[string]int),
		delays:    make(map[string]time.Duration),
		data:      SeedData(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", f.login)
	mux.HandleFunc("POST /api/auth/register", f.register)
	mux.HandleFunc("POST /api/auth/logout", f.authed(f.logout))
	mux.HandleFunc("DELETE /api/auth/account", f.authed(f.deleteAccount))

	mux.HandleFunc("GET /api/stats/user", f.authed(f.serve(func(d *FakeData, _ *http.Request) any { return d.UserStats })))
	mux.HandleFunc("GET /api/stats/solves", f.authed(f.serve(func(d *FakeData, _ *http.Request) any { return d.SolveStats })))
	mux.HandleFunc("GET /api/solves/recent", f.authed(f.serve(func(d *FakeData, _ *http.Request) any { return d.RecentSolves })))
	mux.HandleFunc("GET /api/achievements/stats", f.authed(f.serve(func(d *FakeData, _ *http.Request) any { return d.AchievementStats })))
	mux.HandleFunc("GET /api/freezes", f.authed(f.serve(func(d *FakeData, _ *http.Request) any { return d.Freezes })))
	mux.HandleFunc("GET /api/subscription", f.authed(f.serve(func(d *FakeData, _ *http.Request) any {
		return map[string]bool{"subscribed": d.Subscribed}
	})))

	mux.HandleFunc("GET /api/revisions", f.authed(f.serve(func(d *FakeData, r *http.Request) any {
		return d.Revisions[backend.RevisionMode(r.URL.Query().Get("mode"))]
	})))
	mux.HandleFunc("GET /api/revisions/stats", f.authed(f.serve(func(d *FakeData, r *http.Request) any {
		return d.RevisionStats[backend.RevisionMode(r.URL.Query().Get("mode"))]
	})))
	mux.HandleFunc("POST /api/revisions/{id}/complete", f.authed(f.completeRevision))

	mux.HandleFunc("GET /api/friends", f.authed(f.serve(func(d *FakeData, _ *http.Request) any { return d.Friends })))
	mux.HandleFunc("GET /api/friends/requests/received", f.authed(f.serve(func(d *FakeData, _ *http.Request) any { return d.Received })))
	mux.HandleFunc("GET /api/friends/requests/sent", f.authed(f.serve(func(d *FakeData, _ *http.Request) any { return d.Sent })))
	mux.HandleFunc("GET /api/friends/streaks", f.authed(f.serve(func(d *FakeData, _ *http.Request) any { return d.Streaks })))
	mux.HandleFunc("POST /api/friends/requests", f.authed(f.sendRequest))
	mux.HandleFunc("POST /api/friends/requests/{id}/accept", f.authed(f.answerRequest(true)))
	mux.HandleFunc("POST /api/friends/requests/{id}/reject", f.authed(f.answerRequest(false)))
	mux.HandleFunc("DELETE /api/friends/requests/{id}", f.authed(f.cancelRequest))
	mux.HandleFunc("DELETE /api/friends/{username}", f.authed(f.removeFriend))

	mux.HandleFunc("GET /api/users/{username}/profile", f.authed(f.userResource(func(d *FakeData, u string) (any, bool) {
		p, ok := d.Profiles[u]
		return p, ok
	})))
	mux.HandleFunc("GET /api/users/{username}/solves", f.authed(f.userResource(func(d *FakeData, u string) (any, bool) {
		s, ok := d.UserSolves[u]
		return s, ok
	})))
	mux.HandleFunc("GET /api/users/{username}/achievements", f.authed(f.userResource(func(d *FakeData, u string) (any, bool) {
		a, ok := d.UserAchievements[u]
		return a, ok
	})))

	f.server = httptest.NewServer(f.record(mux))
	t.Cleanup(f.server.Close)
	return f
}

// SeedData returns the default fake data set.
func SeedData() FakeData {
	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return FakeData{
		UserStats: backend.UserStats{
			Username: "alice", CurrentStreak: 12, LongestStreak: 30, XP: 1450,
			Money: 320, Level: 7, FreezesAvailable: 2, SolvedToday: true,
		},
		SolveStats: backend.SolveStats{Total: 214, Easy: 120, Medium: 80, Hard: 14, SolvedToday: 2},
		RecentSolves: []backend.Solve{
			{ID: "s1", ProblemSlug: "two-sum", Title: "Two Sum", Difficulty: "easy", Platform: "leetcode", SolvedAt: day},
			{ID: "s2", ProblemSlug: "lru-cache", Title: "LRU Cache", Difficulty: "medium", Platform: "leetcode", SolvedAt: day.Add(-24 * time.Hour)},
		},
		AchievementStats: backend.AchievementStats{
			Unlocked: 1, Total: 2,
			Achievements: []backend.Achievement{
				{ID: "a1", Name: "First Blood", Description: "Solve a problem", Unlocked: true, UnlockedAt: &day},
				{ID: "a2", Name: "Centurion", Description: "100 day streak"},
			},
		},
		Freezes: backend.FreezeCalendar{Dates: []string{"2026-02-14"}, Available: 2},
		Revisions: map[backend.RevisionMode]backend.GroupedRevisions{
			backend.ModeNormal: {
				Overdue: []backend.Revision{{ID: "r1", ProblemSlug: "valid-parentheses", Title: "Valid Parentheses", DueAt: day.Add(-48 * time.Hour), IntervalDays: 3, Ease: 2.5}},
				Today:   []backend.Revision{{ID: "r2", ProblemSlug: "merge-intervals", Title: "Merge Intervals", DueAt: day, IntervalDays: 6, Ease: 2.3, Repetitions: 2}},
			},
			backend.ModeML: {
				Today: []backend.Revision{{ID: "m1", ProblemSlug: "word-ladder", Title: "Word Ladder", DueAt: day, IntervalDays: 4, Ease: 2.1}},
			},
		},
		RevisionStats: map[backend.RevisionMode]backend.RevisionStats{
			backend.ModeNormal: {DueToday: 1, Overdue: 1, Total: 40, RetentionRate: 0.86},
			backend.ModeML:     {DueToday: 1, Total: 12, RetentionRate: 0.91},
		},
		Friends: []backend.Friend{{Username: "bob", CurrentStreak: 5, XP: 800, Money: 40, Level: 4}},
		Received: []backend.FriendRequest{
			{ID: "req-in-1", FromUsername: "carol", ToUsername: "alice", CreatedAt: day},
		},
		Sent: []backend.FriendRequest{
			{ID: "req-out-1", FromUsername: "alice", ToUsername: "dave", CreatedAt: day},
		},
		Streaks: []backend.FriendStreak{{Username: "bob", CurrentStreak: 5, SolvedToday: false}},
		Profiles: map[string]backend.Profile{
			"bob":   {Username: "bob", JoinedAt: day.AddDate(-1, 0, 0), CurrentStreak: 5, LongestStreak: 21, XP: 800, Level: 4, Bio: "graphs enjoyer"},
			"carol": {Username: "carol", JoinedAt: day.AddDate(0, -2, 0), CurrentStreak: 1, XP: 90, Level: 1},
			"dave":  {Username: "dave", JoinedAt: day.AddDate(0, -1, 0), XP: 10, Level: 1},
			"erin":  {Username: "erin", JoinedAt: day.AddDate(0, -3, 0), XP: 500, Level: 3},
		},
		UserSolves: map[string][]backend.Solve{
			"bob": {{ID: "b1", ProblemSlug: "course-schedule", Title: "Course Schedule", Difficulty: "medium", Platform: "leetcode", SolvedAt: day}},
		},
		UserAchievements: map[string]backend.AchievementStats{
			"bob": {Unlocked: 0, Total: 2},
		},
	}
}

// URL returns the base URL of the fake server.
func (f *FakeAPI) URL() string {
	return f.server.URL
}

// Close stops the server early, making every later request fail.
func (f *FakeAPI) Close() {
	f.server.Close()
}

// AddUser registers an account that can log in.
func (f *FakeAPI) AddUser(username, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords[username] = password
}

// IssueToken creates a valid session token for username.
func (f *FakeAPI) IssueToken(username string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issueLocked(username)
}

// RevokeTokens invalidates every session, so the next request gets 401.
func (f *FakeAPI) RevokeTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = make(map[string]string)
}

// Update mutates the served data under the server lock.
func (f *FakeAPI) Update(fn func(d *FakeData)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.data)
}

// Data returns a shallow copy of the served data.
func (f *FakeAPI) Data() FakeData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}

// SetFailure makes route ("GET /api/stats/solves") answer with status until cleared.
func (f *FakeAPI) SetFailure(route string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[route] = status
}

// ClearFailures removes every injected failure.
func (f *FakeAPI) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]int)
}

// SetDelay delays every response of route by d.
func (f *FakeAPI) SetDelay(route string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[route] = d
}

// GetRequestLog returns every request received as "METHOD /path".
func (f *FakeAPI) GetRequestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.requestLog...)
}

// CountRequests counts requests whose "METHOD /path" equals route.
func (f *FakeAPI) CountRequests(route string) int {
	n := 0
	for _, r := range f.GetRequestLog() {
		if r == route {
			n++
		}
	}
	return n
}

// ResetRequestLog forgets recorded requests.
func (f *FakeAPI) ResetRequestLog() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestLog = nil
}

// record logs the request and applies injected failures and delays.
func (f *FakeAPI) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path

		f.mu.Lock()
		f.requestLog = append(f.requestLog, route)
		status, failing := f.failures[route]
		delay := f.delays[route]
		f.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if failing {
			writeJSON(w, status, map[string]string{"message": fmt.Sprintf("injected failure on %s", route)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authed rejects requests without a valid bearer token.
func (f *FakeAPI) authed(next func(w http.ResponseWriter, r *http.Request, user string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		user, ok := f.tokens[token]
		f.mu.Unlock()
		if token == "" || !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid or expired token"})
			return
		}
		next(w, r, user)
	}
}

func (f *FakeAPI) serve(get func(d *FakeData, r *http.Request) any) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, r *http.Request, _ string) {
		f.mu.Lock()
		v := get(&f.data, r)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, v)
	}
}

func (f *FakeAPI) userResource(get func(d *FakeData, username string) (any, bool)) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, r *http.Request, _ string) {
		username := r.PathValue("username")
		f.mu.Lock()
		v, ok := get(&f.data, username)
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "user not found"})
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func (f *FakeAPI) issueLocked(username string) string {
	f.nextID++
	token := fmt.Sprintf("tok-%s-%d", username, f.nextID)
	f.tokens[token] = username
	return token
}

func (f *FakeAPI) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if pw, ok := f.passwords[req.Username]; !ok || pw != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid username or password"})
		return
	}
	user := f.data.UserStats
	user.Username = req.Username
	writeJSON(w, http.StatusOK, backend.Session{Token: f.issueLocked(req.Username), User: user})
}

func (f *FakeAPI) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.passwords[req.Username]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "username already taken"})
		return
	}
	f.passwords[req.Username] = req.Password
	writeJSON(w, http.StatusCreated, backend.Session{
		Token: f.issueLocked(req.Username),
		User:  backend.UserStats{Username: req.Username, Level: 1},
	})
}

func (f *FakeAPI) logout(w http.ResponseWriter, r *http.Request, _ string) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	delete(f.tokens, token)
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeAPI) deleteAccount(w http.ResponseWriter, _ *http.Request, user string) {
	f.mu.Lock()
	delete(f.passwords, user)
	for token, u := range f.tokens {
		if u == user {
			delete(f.tokens, token)
		}
	}
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeAPI) completeRevision(w http.ResponseWriter, r *http.Request, _ string) {
	id := r.PathValue("id")
	var req struct {
		Quality int                  `json:"quality"`
		Mode    backend.RevisionMode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}
	if req.Quality < 0 || req.Quality > 5 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "quality must be between 0 and 5"})
		return
	}
	if req.Mode == "" {
		req.Mode = backend.ModeNormal
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	grouped := f.data.Revisions[req.Mode]
	var found bool
	grouped.Overdue, found = removeRevision(grouped.Overdue, id, found)
	grouped.Today, found = removeRevision(grouped.Today, id, found)
	grouped.Upcoming, found = removeRevision(grouped.Upcoming, id, found)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "revision not found"})
		return
	}
	f.data.Revisions[req.Mode] = grouped

	stats := f.data.RevisionStats[req.Mode]
	stats.CompletedToday++
	f.data.RevisionStats[req.Mode] = stats
	f.data.UserStats.XP += 10 * (req.Quality + 1)
	f.data.Completed = append(f.data.Completed, fmt.Sprintf("%s:%d", id, req.Quality))

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func removeRevision(list []backend.Revision, id string, found bool) ([]backend.Revision, bool) {
	out := list[:0:0]
	for _, rev := range list {
		if rev.ID == id {
			found = true
			continue
		}
		out = append(out, rev)
	}
	return out, found
}

func (f *FakeAPI) sendRequest(w http.ResponseWriter, r *http.Request, user string) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "username is required"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data.Profiles[req.Username]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "user not found"})
		return
	}
	if backend.FindFriend(f.data.Friends, req.Username) != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already friends"})
		return
	}
	f.nextID++
	f.data.Sent = append(f.data.Sent, backend.FriendRequest{
		ID:           fmt.Sprintf("req-out-%d", f.nextID),
		FromUsername: user,
		ToUsername:   req.Username,
		CreatedAt:    time.Now().UTC(),
	})
	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

func (f *FakeAPI) answerRequest(accept bool) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, r *http.Request, _ string) {
		id := r.PathValue("id")
		f.mu.Lock()
		defer f.mu.Unlock()

		for i, req := range f.data.Received {
			if req.ID != id {
				continue
			}
			f.data.Received = append(f.data.Received[:i:i], f.data.Received[i+1:]...)
			if accept {
				profile := f.data.Profiles[req.FromUsername]
				f.data.Friends = append(f.data.Friends, backend.Friend{
					Username:      req.FromUsername,
					CurrentStreak: profile.CurrentStreak,
					XP:            profile.XP,
					Level:         profile.Level,
				})
			}
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "request not found"})
	}
}

func (f *FakeAPI) cancelRequest(w http.ResponseWriter, r *http.Request, _ string) {
	id := r.PathValue("id")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, req := range f.data.Sent {
		if req.ID == id {
			f.data.Sent = append(f.data.Sent[:i:i], f.data.Sent[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "request not found"})
}

func (f *FakeAPI) removeFriend(w http.ResponseWriter, r *http.Request, _ string) {
	username := r.PathValue("username")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, friend := range f.data.Friends {
		if strings.EqualFold(friend.Username, username) {
			f.data.Friends = append(f.data.Friends[:i:i], f.data.Friends[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "not a friend"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
