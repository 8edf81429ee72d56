package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codestreak/backend"
	"codestreak/backend/api"
	"codestreak/backend/memory"
	"codestreak/internal/cache"
	"codestreak/internal/metrics"
)

// testState mirrors a feature state with one required and one optional slot.
type testState struct {
	Stats   string
	Solves  []string
	Streaks int
}

const (
	keyStats   = cache.KeyUserStats
	keySolves  = cache.KeySolveStats
	keyStreaks = cache.KeyFreezeDates
)

// fakeSource serves the slots with swappable behaviour.
type fakeSource struct {
	mu      sync.Mutex
	stats   func(ctx context.Context) (string, error)
	solves  func(ctx context.Context) ([]string, error)
	streaks func(ctx context.Context) (int, error)
	calls   atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		stats:   func(context.Context) (string, error) { return "net-stats", nil },
		solves:  func(context.Context) ([]string, error) { return []string{"two-sum"}, nil },
		streaks: func(context.Context) (int, error) { return 7, nil },
	}
}

func (f *fakeSource) setStats(fn func(ctx context.Context) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = fn
}

func (f *fakeSource) setSolves(fn func(ctx context.Context) ([]string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.solves = fn
}

func (f *fakeSource) setStreaks(fn func(ctx context.Context) (int, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaks = fn
}

func (f *fakeSource) slots() []Slot[testState] {
	return []Slot[testState]{
		NewSlot("stats", keyStats, 0, true,
			func(ctx context.Context) (string, error) {
				f.calls.Add(1)
				f.mu.Lock()
				fn := f.stats
				f.mu.Unlock()
				return fn(ctx)
			},
			func(s *testState, v string) { s.Stats = v }),
		NewSlot("solves", keySolves, 0, true,
			func(ctx context.Context) ([]string, error) {
				f.calls.Add(1)
				f.mu.Lock()
				fn := f.solves
				f.mu.Unlock()
				return fn(ctx)
			},
			func(s *testState, v []string) { s.Solves = v }),
		NewSlot("streaks", keyStreaks, 0, false,
			func(ctx context.Context) (int, error) {
				f.calls.Add(1)
				f.mu.Lock()
				fn := f.streaks
				f.mu.Unlock()
				return fn(ctx)
			},
			func(s *testState, v int) { s.Streaks = v }),
	}
}

func setup(t *testing.T, opts ...Option[testState]) (*Loader[testState], *cache.Manager, *fakeSource) {
	t.Helper()
	c := cache.NewManager(memory.New())
	src := newFakeSource()
	l := New("test", c, src.slots(), opts...)
	t.Cleanup(l.Close)
	return l, c, src
}

func TestNetworkLoadWhenCacheEmpty(t *testing.T) {
	l, c, _ := setup(t)
	ctx := context.Background()

	snap := l.Load(ctx, Options{})
	if snap.Phase != PhaseReady || snap.FromCache || snap.Loading {
		t.Fatalf("snapshot = %+v, want ready from network", snap)
	}
	if snap.Data.Stats != "net-stats" || len(snap.Data.Solves) != 1 || snap.Data.Streaks != 7 {
		t.Errorf("data = %+v", snap.Data)
	}
	if snap.CycleID == "" {
		t.Error("cycle id not set")
	}

	if v, ok := cache.Lookup[string](ctx, c, keyStats); !ok || v != "net-stats" {
		t.Errorf("cached stats = %q, %v", v, ok)
	}
	if v, ok := cache.Lookup[int](ctx, c, keyStreaks); !ok || v != 7 {
		t.Errorf("cached streaks = %d, %v", v, ok)
	}
}

func TestCacheThenRefresh(t *testing.T) {
	l, c, src := setup(t)
	ctx := context.Background()

	mustPut(t, c, keyStats, "cached-stats")
	mustPut(t, c, keySolves, []string{"old"})

	// The cached snapshot must be visible before any fetch starts.
	var phaseAtFetch atomic.Value
	src.setStats(func(context.Context) (string, error) {
		phaseAtFetch.Store(l.Current().Phase)
		return "fresh-stats", nil
	})

	snap := l.Load(ctx, Options{})
	if snap.Phase != PhaseCacheHit || !snap.FromCache {
		t.Fatalf("first snapshot = %+v, want cache hit", snap)
	}
	if snap.Data.Stats != "cached-stats" {
		t.Errorf("cached stats = %q", snap.Data.Stats)
	}
	if snap.Has("streaks") {
		t.Error("optional slot should not be loaded from an empty cache")
	}

	l.Wait()

	if got := phaseAtFetch.Load(); got != PhaseRefreshing {
		t.Errorf("phase during fetch = %v, want refreshing", got)
	}
	cur := l.Current()
	if cur.Phase != PhaseReady || cur.FromCache {
		t.Fatalf("after refresh = %+v, want ready from network", cur)
	}
	if cur.Data.Stats != "fresh-stats" || cur.Data.Streaks != 7 {
		t.Errorf("refreshed data = %+v", cur.Data)
	}
	if cur.CycleID != snap.CycleID {
		t.Errorf("refresh belongs to cycle %s, want %s", cur.CycleID, snap.CycleID)
	}
	if v, _ := cache.Lookup[string](ctx, c, keyStats); v != "fresh-stats" {
		t.Errorf("cache not updated by refresh: %q", v)
	}
}

func TestRequiredMissGoesToNetwork(t *testing.T) {
	l, c, src := setup(t)
	mustPut(t, c, keyStats, "cached-stats")
	mustPut(t, c, keyStreaks, 3)

	snap := l.Load(context.Background(), Options{})
	if snap.Phase != PhaseReady || snap.FromCache {
		t.Fatalf("snapshot = %+v, want network load", snap)
	}
	if got := src.calls.Load(); got != 3 {
		t.Errorf("fetch calls = %d, want 3", got)
	}
}

func TestExpiredEntriesAreMisses(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	c := cache.NewManager(memory.New(), cache.WithClock(now))
	src := newFakeSource()
	l := New("test", c, src.slots())
	defer l.Close()

	mustPut(t, c, keyStats, "cached")
	mustPut(t, c, keySolves, []string{"cached"})
	clock = clock.Add(cache.TTLShort)

	snap := l.Load(context.Background(), Options{})
	if snap.FromCache {
		t.Fatalf("entries at exactly the TTL must be stale: %+v", snap)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	l, c, src := setup(t)
	ctx := context.Background()
	src.setSolves(func(context.Context) ([]string, error) {
		return nil, &api.Error{Status: 500, Message: "solve stats unavailable", Endpoint: "GET /api/stats/solves"}
	})

	snap := l.Load(ctx, Options{})
	if snap.Phase != PhaseError {
		t.Fatalf("phase = %v, want error", snap.Phase)
	}
	if snap.Err != "solves: solve stats unavailable" {
		t.Errorf("Err = %q", snap.Err)
	}
	if snap.Data.Stats != "net-stats" || !snap.Has("stats") {
		t.Errorf("successful slot lost: %+v", snap.Data)
	}
	if snap.Data.Solves != nil || snap.Has("solves") {
		t.Errorf("failed slot should stay empty: %+v", snap.Data.Solves)
	}
	if _, ok := cache.Lookup[[]string](ctx, c, keySolves); ok {
		t.Error("failed slot must not be cached")
	}
	if _, ok := cache.Lookup[string](ctx, c, keyStats); !ok {
		t.Error("successful slot must be cached")
	}
}

func TestFailureKeepsLastKnownValue(t *testing.T) {
	l, _, src := setup(t)
	ctx := context.Background()
	l.Load(ctx, Options{})

	src.setSolves(func(context.Context) ([]string, error) {
		return nil, errors.New("connection reset")
	})
	snap := l.Load(ctx, Options{ForceRefresh: true})

	if snap.Err != "" || snap.Phase != PhaseReady {
		t.Errorf("slot with prior data must not report: phase=%v err=%q", snap.Phase, snap.Err)
	}
	if len(snap.Data.Solves) != 1 || snap.Data.Solves[0] != "two-sum" {
		t.Errorf("last known value lost: %v", snap.Data.Solves)
	}
}

func TestBackgroundRefreshFailureIsSwallowed(t *testing.T) {
	l, c, src := setup(t)
	mustPut(t, c, keyStats, "cached-stats")
	mustPut(t, c, keySolves, []string{"cached"})

	fail := errors.New("offline")
	src.setStats(func(context.Context) (string, error) { return "", fail })
	src.setSolves(func(context.Context) ([]string, error) { return nil, fail })
	src.setStreaks(func(context.Context) (int, error) { return 0, fail })

	l.Load(context.Background(), Options{})
	l.Wait()

	cur := l.Current()
	if cur.Phase != PhaseCacheHit || !cur.FromCache || cur.Err != "" {
		t.Errorf("after failed refresh = phase %v fromCache %v err %q, want cached display",
			cur.Phase, cur.FromCache, cur.Err)
	}
	if cur.Data.Stats != "cached-stats" {
		t.Errorf("cached data replaced: %+v", cur.Data)
	}
}

func TestForceRefreshInvalidatesGroup(t *testing.T) {
	l, c, src := setup(t, WithGroup[testState](cache.GroupHome))
	ctx := context.Background()
	mustPut(t, c, keyStats, "cached")
	mustPut(t, c, keySolves, []string{"cached"})
	mustPut(t, c, cache.KeyRecentSolves, []string{"other"})
	mustPut(t, c, cache.KeyFriendsList, []string{"bob"})

	snap := l.Load(ctx, Options{ForceRefresh: true})
	if snap.FromCache || snap.Data.Stats != "net-stats" {
		t.Fatalf("force refresh served cache: %+v", snap)
	}
	if src.calls.Load() != 3 {
		t.Errorf("fetch calls = %d, want 3", src.calls.Load())
	}
	if _, ok := cache.Lookup[[]string](ctx, c, cache.KeyRecentSolves); ok {
		t.Error("group key outside the slots should be invalidated")
	}
	if _, ok := cache.Lookup[[]string](ctx, c, cache.KeyFriendsList); !ok {
		t.Error("other groups must be untouched")
	}
}

func TestNewCycleCancelsPrevious(t *testing.T) {
	l, c, src := setup(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	src.setStats(func(context.Context) (string, error) {
		close(started)
		<-release
		return "stale-A", nil
	})

	done := make(chan Snapshot[testState])
	go func() { done <- l.Load(ctx, Options{}) }()
	<-started

	src.setStats(func(context.Context) (string, error) { return "B", nil })
	snapB := l.Load(ctx, Options{})
	if snapB.Data.Stats != "B" {
		t.Fatalf("cycle B data = %+v", snapB.Data)
	}

	close(release)
	<-done

	cur := l.Current()
	if cur.Data.Stats != "B" || cur.CycleID != snapB.CycleID {
		t.Errorf("superseded cycle published: %+v", cur)
	}
	if v, _ := cache.Lookup[string](ctx, c, keyStats); v != "B" {
		t.Errorf("superseded cycle overwrote cache: %q", v)
	}
}

func TestCancelledFetchDoesNotPublish(t *testing.T) {
	l, _, src := setup(t)
	src.setStats(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Load(ctx, Options{})
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for l.Current().Phase != PhaseLoading {
		select {
		case <-deadline:
			t.Fatal("never reached loading")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	if cur := l.Current(); cur.Phase != PhaseLoading {
		t.Errorf("cancelled cycle published %v", cur.Phase)
	}
}

func TestUnauthorizedCallback(t *testing.T) {
	var calls atomic.Int32
	l, _, src := setup(t, WithUnauthorized[testState](func(context.Context) { calls.Add(1) }))
	src.setStats(func(context.Context) (string, error) { return "", api.ErrNoToken })
	src.setSolves(func(context.Context) ([]string, error) {
		return nil, &api.Error{Status: 401, Message: "token expired"}
	})

	snap := l.Load(context.Background(), Options{})
	if calls.Load() != 1 {
		t.Errorf("callback calls = %d, want 1 per cycle", calls.Load())
	}
	if snap.Phase != PhaseError {
		t.Errorf("phase = %v", snap.Phase)
	}
}

func TestSubscribeLatestWins(t *testing.T) {
	l, _, _ := setup(t)
	ch, unsubscribe := l.Subscribe()

	l.Load(context.Background(), Options{})
	l.Load(context.Background(), Options{ForceRefresh: true})
	l.Wait()

	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
	got := <-ch
	if got.CycleID != l.Current().CycleID || got.Phase != l.Current().Phase {
		t.Errorf("subscriber saw %v/%s, want latest %v/%s", got.Phase, got.CycleID, l.Current().Phase, l.Current().CycleID)
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestResetPublishesIdle(t *testing.T) {
	l, _, _ := setup(t)
	l.Load(context.Background(), Options{})
	ch, unsubscribe := l.Subscribe()
	defer unsubscribe()

	l.Reset()

	snap := <-ch
	if snap.Phase != PhaseIdle || snap.Data.Stats != "" || snap.Has("stats") {
		t.Errorf("reset snapshot = %+v", snap)
	}
}

func TestCloseStopsLoader(t *testing.T) {
	c := cache.NewManager(memory.New())
	l := New("test", c, newFakeSource().slots())
	ch, _ := l.Subscribe()

	l.Close()

	if _, ok := <-ch; ok {
		t.Error("subscription should be closed")
	}
	if snap := l.Load(context.Background(), Options{}); snap.Phase != PhaseIdle {
		t.Errorf("closed loader ran a cycle: %v", snap.Phase)
	}
}

func TestConcurrentLoadAndClose(t *testing.T) {
	l, c, _ := setup(t)
	mustPut(t, c, keyStats, "cached")
	mustPut(t, c, keySolves, []string{"cached"})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(3)
		go func() { defer wg.Done(); l.Load(context.Background(), Options{}) }()
		go func() { defer wg.Done(); _ = l.Current() }()
		go func() { defer wg.Done(); l.Wait() }()
	}
	wg.Add(1)
	go func() { defer wg.Done(); l.Close() }()
	wg.Wait()
	l.Close()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.bg) != 0 {
		t.Errorf("%d background refreshes still registered after Close", len(l.bg))
	}
}

// gatedStore blocks every write until release is closed.
type gatedStore struct {
	backend.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Set(ctx context.Context, key string, value []byte) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.Set(ctx, key, value)
}

func TestCacheWriteDoesNotBlockReaders(t *testing.T) {
	store := &gatedStore{Store: memory.New(), entered: make(chan struct{}), release: make(chan struct{})}
	l := New("test", cache.NewManager(store), newFakeSource().slots())
	t.Cleanup(l.Close)

	loaded := make(chan struct{})
	go func() {
		l.Load(context.Background(), Options{})
		close(loaded)
	}()
	<-store.entered

	read := make(chan Snapshot[testState])
	go func() { read <- l.Current() }()
	select {
	case snap := <-read:
		if snap.Phase != PhaseLoading {
			t.Errorf("phase during write = %v", snap.Phase)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Current blocked behind a cache write")
	}

	close(store.release)
	<-loaded
	if cur := l.Current(); cur.Phase != PhaseReady {
		t.Errorf("phase = %v after writes", cur.Phase)
	}
}

func TestCycleMetrics(t *testing.T) {
	m := metrics.New()
	l, c, _ := setup(t, WithMetrics[testState](m))
	mustPut(t, c, keyStats, "cached")
	mustPut(t, c, keySolves, []string{"cached"})

	l.Load(context.Background(), Options{})
	l.Wait()

	samples, err := m.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"loader=test,outcome=cache_hit": false,
		"loader=test,outcome=refreshed": false,
	}
	for _, s := range samples {
		if s.Name != "codestreak_loader_cycles_total" {
			continue
		}
		if _, ok := want[s.Labels]; ok && s.Value == 1 {
			want[s.Labels] = true
		}
	}
	for labels, seen := range want {
		if !seen {
			t.Errorf("missing cycle outcome %s", labels)
		}
	}
}

func TestPhaseString(t *testing.T) {
	tests := map[Phase]string{
		PhaseIdle:       "idle",
		PhaseCacheHit:   "cache_hit",
		PhaseLoading:    "loading",
		PhaseRefreshing: "refreshing",
		PhaseReady:      "ready",
		PhaseError:      "error",
		Phase(42):       "phase(42)",
	}
	for p, want := range tests {
		if p.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(p), p.String(), want)
		}
	}
}

func mustPut(t *testing.T, c *cache.Manager, key string, v any) {
	t.Helper()
	if err := c.Put(context.Background(), key, v); err != nil {
		t.Fatalf("Put(%s): %v", key, err)
	}
}
