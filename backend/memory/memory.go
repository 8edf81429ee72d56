// Package memory provides an in-process backend.Store that forgets everything on exit.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"codestreak/backend"
)

func init() {
	backend.RegisterStoreWithPriority("memory", func(string) (backend.Store, error) {
		return New(), nil
	}, 200)
}

// Backend implements backend.Store with a map
type Backend struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailWrites makes every Set return ErrWriteFailed (for tests).
	FailWrites bool
}

// New creates an empty in-memory store.
func New() *Backend {
	return &Backend{data: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set replaces the value stored under key.
func (b *Backend) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWrites {
		return ErrWriteFailed
	}
	b.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key.
func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

// Keys returns all keys with the given prefix, sorted.
func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := []string{}
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear deletes every key.
func (b *Backend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make(map[string][]byte)
	return nil
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
}

// Len returns the number of stored keys.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
