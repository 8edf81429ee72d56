package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func startWatcher(t *testing.T, files ...string) *atomic.Int32 {
	t.Helper()
	var changes atomic.Int32
	w, err := New(Config{
		Files:            files,
		DebounceDuration: 50 * time.Millisecond,
		OnChange:         func() { changes.Add(1) },
	})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return &changes
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcherDetectsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	changes := startWatcher(t, path)

	if err := os.WriteFile(path, []byte("a: 2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return changes.Load() > 0 })
}

func TestWatcherDetectsRenameOver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	changes := startWatcher(t, path)

	tmp := filepath.Join(dir, ".config.yaml.swp")
	if err := os.WriteFile(tmp, []byte("a: 2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return changes.Load() > 0 })
}

func TestWatcherDetectsCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	changes := startWatcher(t, path)

	if err := os.WriteFile(path, []byte("a: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return changes.Load() > 0 })
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, filepath.Join(dir, "config.yaml"))

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := changes.Load(); n != 0 {
		t.Errorf("OnChange called %d times for an unwatched file", n)
	}
}

func TestWatcherDebouncesBurst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	changes := startWatcher(t, path)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{byte('a' + i)}, 0600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, func() bool { return changes.Load() > 0 })
	time.Sleep(150 * time.Millisecond)
	if n := changes.Load(); n != 1 {
		t.Errorf("OnChange called %d times for one burst, want 1", n)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := New(Config{Files: []string{filepath.Join(t.TempDir(), "c.yaml")}})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
	if err := w.Start(); err == nil {
		t.Error("expected Start after Stop to fail")
	}
}
