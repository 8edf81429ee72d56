// Package cache is the stale-while-revalidate cache in front of every API read.
//
// Each entry occupies two slots of the backend store: the encoded value under
// the key itself and the write time under "<key>#ts" as decimal Unix
// milliseconds. An entry is fresh while now - writtenAt < ttl(key). Reads
// never fail: absent, expired, unreadable and undecodable entries are misses.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"codestreak/backend"
	"codestreak/internal/metrics"
	"codestreak/internal/utils"
)

// ErrStorageWrite is returned by Put when the store rejects the write.
var ErrStorageWrite = errors.New("cache storage write failed")

// Manager wraps a backend.Store with typed, TTL-governed accessors.
type Manager struct {
	store             backend.Store
	now               func() time.Time
	shortTTL          time.Duration
	longTTL           time.Duration
	compressThreshold int
	metrics           *metrics.Metrics
	log               zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTTLs overrides the tier durations. Zero values keep the defaults.
func WithTTLs(short, long time.Duration) Option {
	return func(m *Manager) {
		if short > 0 {
			m.shortTTL = short
		}
		if long > 0 {
			m.longTTL = long
		}
	}
}

// WithCompressThreshold sets the size above which values are zstd-compressed.
func WithCompressThreshold(n int) Option {
	return func(m *Manager) { m.compressThreshold = n }
}

// WithMetrics records hits, misses and decode failures.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger replaces the global logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a cache over store.
func NewManager(store backend.Store, opts ...Option) *Manager {
	m := &Manager{
		store:             store,
		now:               time.Now,
		shortTTL:          TTLShort,
		longTTL:           TTLLong,
		compressThreshold: DefaultCompressThreshold,
		log:               *utils.Log(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "cache").Logger()
	return m
}

// Store exposes the underlying store.
func (m *Manager) Store() backend.Store {
	return m.store
}

// TTL returns the freshness window of a registered key.
// Unregistered keys get the short tier.
func (m *Manager) TTL(key string) time.Duration {
	spec, ok := LookupSpec(key)
	if ok && spec.Tier == TierLong {
		return m.longTTL
	}
	return m.shortTTL
}

// Put encodes value and writes it with the current time.
func (m *Manager) Put(ctx context.Context, key string, value any) error {
	data, err := Encode(value, m.compressThreshold)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, key, data); err != nil {
		m.metrics.WriteFailure()
		return fmt.Errorf("%w: %s: %v", ErrStorageWrite, key, err)
	}
	ts := strconv.FormatInt(m.now().UnixMilli(), 10)
	if err := m.store.Set(ctx, TimestampKey(key), []byte(ts)); err != nil {
		m.metrics.WriteFailure()
		return fmt.Errorf("%w: %s: %v", ErrStorageWrite, TimestampKey(key), err)
	}
	return nil
}

// writtenAt reads the timestamp slot of key.
func (m *Manager) writtenAt(ctx context.Context, key string) (time.Time, bool) {
	raw, err := m.store.Get(ctx, TimestampKey(key))
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) {
			m.log.Debug().Err(err).Str("key", key).Msg("timestamp read failed")
		}
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Get returns the cached value of key if it was written less than ttl ago.
// The value slot is not read when the entry is absent or expired.
func Get[T any](ctx context.Context, m *Manager, key string, ttl time.Duration) (T, bool) {
	var zero T
	group := groupOf(key)

	written, ok := m.writtenAt(ctx, key)
	if !ok || m.now().Sub(written) >= ttl {
		m.metrics.CacheMiss(group)
		return zero, false
	}

	raw, err := m.store.Get(ctx, key)
	if err != nil {
		m.metrics.CacheMiss(group)
		return zero, false
	}

	var v T
	if err := Decode(raw, &v); err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("cached value undecodable, treating as miss")
		m.metrics.DecodeFailure(key)
		m.metrics.CacheMiss(group)
		return zero, false
	}
	m.metrics.CacheHit(group)
	return v, true
}

// Lookup is Get with the key's registered TTL.
func Lookup[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	return Get[T](ctx, m, key, m.TTL(key))
}

// Age returns how long ago key was written, regardless of freshness.
func (m *Manager) Age(ctx context.Context, key string) (time.Duration, bool) {
	written, ok := m.writtenAt(ctx, key)
	if !ok {
		return 0, false
	}
	return m.now().Sub(written), true
}

// Invalidate deletes both slots of key. Idempotent.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	var errs []error
	if err := m.store.Delete(ctx, key); err != nil {
		errs = append(errs, err)
	}
	if err := m.store.Delete(ctx, TimestampKey(key)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// InvalidateGroup invalidates every static key of group and every stored key
// under the group's prefix families. Other groups are untouched.
func (m *Manager) InvalidateGroup(ctx context.Context, group Group) error {
	keys := GroupKeys(group)
	for _, prefix := range GroupPrefixes(group) {
		stored, err := m.store.Keys(ctx, prefix)
		if err != nil {
			return fmt.Errorf("list %s*: %w", prefix, err)
		}
		for _, k := range stored {
			if !strings.HasSuffix(k, tsSuffix) {
				keys = append(keys, k)
			}
		}
	}

	var errs []error
	for _, k := range keys {
		if err := m.Invalidate(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	m.log.Debug().Str("group", string(group)).Int("keys", len(keys)).Msg("group invalidated")
	return errors.Join(errs...)
}

// ClearAll removes the downloaded avatar file, then every slot of the store.
func (m *Manager) ClearAll(ctx context.Context) error {
	if path, ok := m.String(ctx, FlagAvatarPath); ok && path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.log.Warn().Err(err).Str("path", path).Msg("avatar file not removed")
		}
	}
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// SetString stores a flag value without a timestamp.
func (m *Manager) SetString(ctx context.Context, key, value string) error {
	if err := m.store.Set(ctx, key, []byte(value)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageWrite, key, err)
	}
	return nil
}

// String reads a flag value.
func (m *Manager) String(ctx context.Context, key string) (string, bool) {
	raw, err := m.store.Get(ctx, key)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// SetBool stores a boolean flag.
func (m *Manager) SetBool(ctx context.Context, key string, value bool) error {
	return m.SetString(ctx, key, strconv.FormatBool(value))
}

// Bool reads a boolean flag; absent or malformed flags are false.
func (m *Manager) Bool(ctx context.Context, key string) bool {
	raw, ok := m.String(ctx, key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(raw)
	return err == nil && b
}

// EntryInfo describes one cached entry for 'codestreak cache status'.
type EntryInfo struct {
	Key        string
	Group      Group
	Age        time.Duration
	TTL        time.Duration
	Fresh      bool
	Size       int
	Compressed bool
}

// Entries lists every timestamped entry in the store, sorted by key.
func (m *Manager) Entries(ctx context.Context) ([]EntryInfo, error) {
	all, err := m.store.Keys(ctx, "")
	if err != nil {
		return nil, err
	}

	var out []EntryInfo
	for _, k := range all {
		if !strings.HasSuffix(k, tsSuffix) {
			continue
		}
		key := strings.TrimSuffix(k, tsSuffix)
		age, ok := m.Age(ctx, key)
		if !ok {
			continue
		}
		info := EntryInfo{Key: key, Group: Group(groupOf(key)), Age: age, TTL: m.TTL(key)}
		info.Fresh = age < info.TTL
		if raw, err := m.store.Get(ctx, key); err == nil {
			info.Size = len(raw)
			info.Compressed = IsCompressed(raw)
		}
		out = append(out, info)
	}
	return out, nil
}

func groupOf(key string) string {
	if spec, ok := LookupSpec(key); ok {
		return string(spec.Group)
	}
	return "other"
}
