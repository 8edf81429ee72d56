package loader

import (
	"context"
	"time"

	"codestreak/internal/cache"
)

// Slot is one cached, independently fetched field of a feature state S.
type Slot[S any] struct {
	Name     string
	Key      string
	Required bool

	ttl   time.Duration
	probe func(ctx context.Context, c *cache.Manager, ttl time.Duration) (any, bool)
	fetch func(ctx context.Context) (any, error)
	apply func(data *S, v any)
}

// NewSlot binds a typed fetcher and setter to a cache key.
//
// A zero ttl uses the tier registered for key. Required slots must all hit
// the cache for a cycle to be served from cache; optional slots are filled
// in by the refresh that follows.
func NewSlot[S, T any](name, key string, ttl time.Duration, required bool,
	fetch func(ctx context.Context) (T, error), apply func(data *S, v T)) Slot[S] {
	return Slot[S]{
		Name:     name,
		Key:      key,
		Required: required,
		ttl:      ttl,
		probe: func(ctx context.Context, c *cache.Manager, ttl time.Duration) (any, bool) {
			return cache.Get[T](ctx, c, key, ttl)
		},
		fetch: func(ctx context.Context) (any, error) {
			v, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			return v, nil
		},
		apply: func(data *S, v any) {
			apply(data, v.(T))
		},
	}
}

// TTL returns the freshness window of the slot under c.
func (s Slot[S]) TTL(c *cache.Manager) time.Duration {
	if s.ttl > 0 {
		return s.ttl
	}
	return c.TTL(s.Key)
}
