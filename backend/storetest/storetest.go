// Package storetest provides a shared contract test suite for backend.Store drivers.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"codestreak/backend"
)

// Run exercises the backend.Store contract against stores produced by newStore.
// Every subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) backend.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		if !errors.Is(err, backend.ErrNotFound) {
			t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("SetGetOverwrite", func(t *testing.T) {
		s := newStore(t)
		if err := s.Set(ctx, "k", []byte("one")); err != nil {
			t.Fatalf("Set error: %v", err)
		}
		if err := s.Set(ctx, "k", []byte("two")); err != nil {
			t.Fatalf("Set error: %v", err)
		}
		got, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if string(got) != "two" {
			t.Errorf("Get = %q, want %q", got, "two")
		}
	})

	t.Run("BinaryValues", func(t *testing.T) {
		s := newStore(t)
		blob := []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00, 0xff, 0x10}
		if err := s.Set(ctx, "bin", blob); err != nil {
			t.Fatalf("Set error: %v", err)
		}
		got, err := s.Get(ctx, "bin")
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if !reflect.DeepEqual(got, blob) {
			t.Errorf("Get = %v, want %v", got, blob)
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		s := newStore(t)
		_ = s.Set(ctx, "k", []byte("v"))
		for i := 0; i < 2; i++ {
			if err := s.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete #%d error: %v", i+1, err)
			}
		}
		if _, err := s.Get(ctx, "k"); !errors.Is(err, backend.ErrNotFound) {
			t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
		}
	})

	t.Run("KeysByPrefix", func(t *testing.T) {
		s := newStore(t)
		for _, k := range []string{"home.a", "home.b", "friends.list", "homework"} {
			if err := s.Set(ctx, k, []byte("x")); err != nil {
				t.Fatalf("Set(%s) error: %v", k, err)
			}
		}

		got, err := s.Keys(ctx, "home.")
		if err != nil {
			t.Fatalf("Keys error: %v", err)
		}
		want := []string{"home.a", "home.b"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Keys(home.) = %v, want %v", got, want)
		}

		all, err := s.Keys(ctx, "")
		if err != nil {
			t.Fatalf("Keys error: %v", err)
		}
		if len(all) != 4 {
			t.Errorf("Keys(\"\") returned %d keys, want 4", len(all))
		}
	})

	t.Run("Clear", func(t *testing.T) {
		s := newStore(t)
		_ = s.Set(ctx, "a", []byte("1"))
		_ = s.Set(ctx, "b", []byte("2"))
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear error: %v", err)
		}
		keys, err := s.Keys(ctx, "")
		if err != nil {
			t.Fatalf("Keys error: %v", err)
		}
		if len(keys) != 0 {
			t.Errorf("Keys after Clear = %v, want none", keys)
		}
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = s.Set(ctx, "shared", []byte(fmt.Sprintf("writer-%d", i)))
			}(i)
		}
		wg.Wait()

		got, err := s.Get(ctx, "shared")
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if len(got) == 0 {
			t.Error("expected one writer's value to win")
		}
	})
}
