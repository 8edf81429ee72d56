// Package loader implements the cache-then-refresh orchestrator shared by
// every feature area.
//
// A load cycle probes the cache for every slot. When all required slots are
// fresh the cached state is published at once and refreshed in the
// background; otherwise every slot is fetched concurrently and the merged
// result is published. Starting a new cycle cancels the previous one, and a
// superseded cycle can neither publish nor write the cache.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"codestreak/backend/api"
	"codestreak/internal/cache"
	"codestreak/internal/metrics"
	"codestreak/internal/utils"
)

// Phase is the state of the most recent load cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCacheHit
	PhaseLoading
	PhaseRefreshing
	PhaseReady
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCacheHit:
		return "cache_hit"
	case PhaseLoading:
		return "loading"
	case PhaseRefreshing:
		return "refreshing"
	case PhaseReady:
		return "ready"
	case PhaseError:
		return "error"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Snapshot is an immutable view of a feature state. A new value is
// published on every transition.
type Snapshot[S any] struct {
	Phase     Phase
	Loading   bool
	Err       string
	FromCache bool
	Data      S
	CycleID   string
	UpdatedAt time.Time

	loaded map[string]bool
}

// Has reports whether slot has data, from cache or network.
func (s Snapshot[S]) Has(slot string) bool {
	return s.loaded[slot]
}

// Refreshing reports whether cached data is shown while a refresh runs.
func (s Snapshot[S]) Refreshing() bool {
	return s.Phase == PhaseRefreshing
}

// Options control one load cycle.
type Options struct {
	// ForceRefresh invalidates the loader's cache group and skips the cache probe.
	ForceRefresh bool
}

// Loader orchestrates load cycles for one feature state S.
type Loader[S any] struct {
	name           string
	cache          *cache.Manager
	slots          []Slot[S]
	group          cache.Group
	metrics        *metrics.Metrics
	log            zerolog.Logger
	refreshLog     zerolog.Logger
	refreshLogSet  bool
	onUnauthorized func(ctx context.Context)
	now            func() time.Time

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	current Snapshot[S]
	subs    map[int]chan Snapshot[S]
	nextSub int
	closed  bool
	// bg holds the done channel of every running background refresh, by generation.
	bg map[uint64]chan struct{}

	// storeMu orders cache writes so a superseded cycle cannot overwrite a
	// newer one, without holding mu across store I/O.
	storeMu sync.Mutex
}

// Option configures a Loader.
type Option[S any] func(*Loader[S])

// WithGroup sets the cache group invalidated by ForceRefresh.
func WithGroup[S any](g cache.Group) Option[S] {
	return func(l *Loader[S]) { l.group = g }
}

// WithMetrics records cycle outcomes.
func WithMetrics[S any](m *metrics.Metrics) Option[S] {
	return func(l *Loader[S]) { l.metrics = m }
}

// WithLogger replaces the global logger.
func WithLogger[S any](log zerolog.Logger) Option[S] {
	return func(l *Loader[S]) { l.log = log }
}

// WithRefreshLogger receives background refresh failures, which are never shown.
func WithRefreshLogger[S any](log zerolog.Logger) Option[S] {
	return func(l *Loader[S]) {
		l.refreshLog = log
		l.refreshLogSet = true
	}
}

// WithUnauthorized is called when any slot fails with api.ErrUnauthorized.
func WithUnauthorized[S any](fn func(ctx context.Context)) Option[S] {
	return func(l *Loader[S]) { l.onUnauthorized = fn }
}

// WithClock replaces time.Now for snapshot timestamps.
func WithClock[S any](now func() time.Time) Option[S] {
	return func(l *Loader[S]) { l.now = now }
}

// Shared holds the options every loader of a process gets.
type Shared struct {
	Metrics        *metrics.Metrics
	Log            *zerolog.Logger
	RefreshLog     *zerolog.Logger
	OnUnauthorized func(ctx context.Context)
}

// SharedOptions converts s into loader options for state S.
func SharedOptions[S any](s Shared) []Option[S] {
	opts := []Option[S]{WithMetrics[S](s.Metrics)}
	if s.Log != nil {
		opts = append(opts, WithLogger[S](*s.Log))
	}
	if s.RefreshLog != nil {
		opts = append(opts, WithRefreshLogger[S](*s.RefreshLog))
	}
	if s.OnUnauthorized != nil {
		opts = append(opts, WithUnauthorized[S](s.OnUnauthorized))
	}
	return opts
}

// New creates a loader named name (used in logs and metrics) over slots.
func New[S any](name string, c *cache.Manager, slots []Slot[S], opts ...Option[S]) *Loader[S] {
	l := &Loader[S]{
		name:  name,
		cache: c,
		slots: slots,
		log:   *utils.Log(),
		now:   time.Now,
		subs:  make(map[int]chan Snapshot[S]),
		bg:    make(map[uint64]chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if !l.refreshLogSet {
		l.refreshLog = l.log
	}
	l.log = l.log.With().Str("loader", name).Logger()
	l.refreshLog = l.refreshLog.With().Str("loader", name).Logger()
	return l
}

// Name returns the loader name.
func (l *Loader[S]) Name() string {
	return l.name
}

// Current returns the last published snapshot.
func (l *Loader[S]) Current() Snapshot[S] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Subscribe returns a channel of published snapshots and a function that
// unsubscribes. Slow readers only see the latest snapshot.
func (l *Loader[S]) Subscribe() (<-chan Snapshot[S], func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan Snapshot[S], 1)
	if l.closed {
		close(ch)
		return ch, func() {}
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if _, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(ch)
			}
		})
	}
}

// Load runs one load cycle and returns the first settled snapshot: the
// cached state when every required slot is fresh, else the network result.
func (l *Loader[S]) Load(ctx context.Context, opts Options) Snapshot[S] {
	cycleCtx, gen, id, ok := l.begin(ctx)
	if !ok {
		return l.Current()
	}
	log := l.log.With().Str("cycle", id).Logger()

	if opts.ForceRefresh && l.group != "" {
		if err := l.cache.InvalidateGroup(cycleCtx, l.group); err != nil {
			log.Debug().Err(err).Str("group", string(l.group)).Msg("invalidate before refresh failed")
		}
	}

	base := l.Current()
	data := base.Data
	loaded := copyLoaded(base.loaded)

	if !opts.ForceRefresh {
		allRequired := true
		hits := 0
		for _, s := range l.slots {
			v, hit := s.probe(cycleCtx, l.cache, s.TTL(l.cache))
			if !hit {
				if s.Required {
					allRequired = false
				}
				continue
			}
			s.apply(&data, v)
			loaded[s.Name] = true
			hits++
		}
		log.Debug().Int("hits", hits).Int("slots", len(l.slots)).Bool("served_from_cache", allRequired).Msg("cache probed")

		if allRequired {
			snap := Snapshot[S]{Phase: PhaseCacheHit, FromCache: true, Data: data, CycleID: id, UpdatedAt: l.now(), loaded: loaded}
			done, ok := l.publishBackground(gen, snap)
			if !ok {
				l.metrics.LoaderCycle(l.name, metrics.OutcomeCancelled)
				return l.Current()
			}
			l.metrics.LoaderCycle(l.name, metrics.OutcomeCacheHit)

			go func() {
				defer l.finishBackground(gen, done)
				l.refresh(cycleCtx, gen, id, data, loaded)
			}()
			return snap
		}
	}

	return l.networkLoad(cycleCtx, gen, id, data, loaded)
}

// Refresh is Load with ForceRefresh.
func (l *Loader[S]) Refresh(ctx context.Context) Snapshot[S] {
	return l.Load(ctx, Options{ForceRefresh: true})
}

// Wait blocks until every background refresh started so far has finished.
func (l *Loader[S]) Wait() {
	l.mu.Lock()
	pending := make([]chan struct{}, 0, len(l.bg))
	for _, done := range l.bg {
		pending = append(pending, done)
	}
	l.mu.Unlock()

	for _, done := range pending {
		<-done
	}
}

// Reset cancels the in-flight cycle and publishes an empty idle snapshot.
func (l *Loader[S]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
	l.setLocked(Snapshot[S]{Phase: PhaseIdle})
}

// Close cancels the in-flight cycle, waits for background work and closes
// every subscription.
func (l *Loader[S]) Close() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
	l.closed = true
	l.mu.Unlock()

	l.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}

// begin starts a cycle, cancelling the previous one.
func (l *Loader[S]) begin(parent context.Context) (context.Context, uint64, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, 0, "", false
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	return ctx, l.gen, uuid.NewString(), true
}

// networkLoad fetches every slot and publishes the merged result.
func (l *Loader[S]) networkLoad(ctx context.Context, gen uint64, id string, data S, loaded map[string]bool) Snapshot[S] {
	if !l.publish(gen, Snapshot[S]{Phase: PhaseLoading, Loading: true, Data: data, CycleID: id, loaded: loaded}) {
		l.metrics.LoaderCycle(l.name, metrics.OutcomeCancelled)
		return l.Current()
	}

	results := l.fetchAll(ctx)
	if ctx.Err() != nil {
		l.metrics.LoaderCycle(l.name, metrics.OutcomeCancelled)
		return l.Current()
	}

	m := l.merge(ctx, gen, data, loaded, results)
	if m.unauthorized {
		l.unauthorized(ctx)
	}

	var msgs []string
	for _, f := range m.failures {
		if !m.loaded[f.slot] {
			msgs = append(msgs, f.slot+": "+f.message)
		}
	}

	snap := Snapshot[S]{Phase: PhaseReady, Data: m.data, CycleID: id, UpdatedAt: l.now(), loaded: m.loaded}
	outcome := metrics.OutcomeReady
	if len(msgs) > 0 {
		snap.Phase = PhaseError
		snap.Err = strings.Join(msgs, "; ")
		outcome = metrics.OutcomeError
	}
	if !l.publish(gen, snap) {
		l.metrics.LoaderCycle(l.name, metrics.OutcomeCancelled)
		return l.Current()
	}
	l.metrics.LoaderCycle(l.name, outcome)
	return snap
}

// refresh re-fetches after a cache hit. Failures are logged, never shown.
func (l *Loader[S]) refresh(ctx context.Context, gen uint64, id string, data S, loaded map[string]bool) {
	cached := Snapshot[S]{Phase: PhaseCacheHit, FromCache: true, Data: data, CycleID: id, loaded: loaded}
	refreshing := cached
	refreshing.Phase = PhaseRefreshing
	refreshing.Loading = true
	if !l.publish(gen, refreshing) {
		return
	}

	results := l.fetchAll(ctx)
	if ctx.Err() != nil {
		l.metrics.LoaderCycle(l.name, metrics.OutcomeCancelled)
		return
	}

	m := l.merge(ctx, gen, data, loaded, results)
	for _, f := range m.failures {
		l.refreshLog.Warn().Str("cycle", id).Str("slot", f.slot).Msg("background refresh failed: " + f.message)
	}
	if m.unauthorized {
		l.unauthorized(ctx)
	}

	if m.succeeded == 0 {
		if l.publish(gen, cached) {
			l.metrics.LoaderCycle(l.name, metrics.OutcomeRefreshFailed)
		}
		return
	}
	if l.publish(gen, Snapshot[S]{Phase: PhaseReady, Data: m.data, CycleID: id, loaded: m.loaded}) {
		l.metrics.LoaderCycle(l.name, metrics.OutcomeRefreshed)
	}
}

type fetchResult struct {
	value any
	err   error
}

// fetchAll runs every slot's fetch concurrently. One slot failing never
// cancels the others.
func (l *Loader[S]) fetchAll(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(l.slots))
	var g errgroup.Group
	for i, s := range l.slots {
		g.Go(func() error {
			v, err := s.fetch(ctx)
			results[i] = fetchResult{value: v, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type slotFailure struct {
	slot    string
	message string
}

type merged[S any] struct {
	data         S
	loaded       map[string]bool
	succeeded    int
	failures     []slotFailure
	unauthorized bool
}

// merge applies successful results to data and writes them to the cache
// while gen is still current.
func (l *Loader[S]) merge(ctx context.Context, gen uint64, data S, loaded map[string]bool, results []fetchResult) merged[S] {
	m := merged[S]{data: data, loaded: copyLoaded(loaded)}
	for i, r := range results {
		s := l.slots[i]
		if r.err != nil {
			if errors.Is(r.err, api.ErrUnauthorized) {
				m.unauthorized = true
			}
			m.failures = append(m.failures, slotFailure{slot: s.Name, message: errorMessage(r.err)})
			continue
		}
		m.succeeded++
		s.apply(&m.data, r.value)
		m.loaded[s.Name] = true
		l.store(ctx, gen, s.Key, r.value)
	}
	return m
}

// store writes a fetched value unless a newer cycle has started.
func (l *Loader[S]) store(ctx context.Context, gen uint64, key string, v any) {
	l.storeMu.Lock()
	defer l.storeMu.Unlock()

	l.mu.Lock()
	current := gen == l.gen
	l.mu.Unlock()
	if !current {
		return
	}
	if err := l.cache.Put(ctx, key, v); err != nil {
		l.log.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (l *Loader[S]) unauthorized(ctx context.Context) {
	if l.onUnauthorized == nil {
		return
	}
	l.log.Info().Msg("session rejected by server")
	l.onUnauthorized(context.WithoutCancel(ctx))
}

// publish replaces the current snapshot if gen is still current.
func (l *Loader[S]) publish(gen uint64, snap Snapshot[S]) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return false
	}
	l.setLocked(snap)
	return true
}

// publishBackground publishes snap and registers the background refresh of
// gen in one critical section, so Wait and Close never miss it.
func (l *Loader[S]) publishBackground(gen uint64, snap Snapshot[S]) (chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || l.closed {
		return nil, false
	}
	l.setLocked(snap)
	done := make(chan struct{})
	l.bg[gen] = done
	return done, true
}

func (l *Loader[S]) finishBackground(gen uint64, done chan struct{}) {
	l.mu.Lock()
	delete(l.bg, gen)
	l.mu.Unlock()
	close(done)
}

func (l *Loader[S]) setLocked(snap Snapshot[S]) {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = l.now()
	}
	l.current = snap
	for _, ch := range l.subs {
		offer(ch, snap)
	}
}

// offer sends v, replacing any value the reader has not taken yet.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

func copyLoaded(src map[string]bool) map[string]bool {
	dst := make(map[string]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// errorMessage prefers the server's message over the wrapped endpoint text.
func errorMessage(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
