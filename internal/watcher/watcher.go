// Package watcher reports changes to a set of files, debounced, so
// long-running commands can pick up an edited config without a restart.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounceDuration is the default debounce window for batching rapid changes.
const DefaultDebounceDuration = 500 * time.Millisecond

// Config holds file watcher configuration.
type Config struct {
	Files            []string      // Files to watch; they need not exist yet
	DebounceDuration time.Duration // Debounce window to batch rapid changes
	OnChange         func()        // Called once per batch of changes
	Log              zerolog.Logger
}

// Watcher monitors the parent directories of Files. Editors that save by
// writing a temp file and renaming it over the original are seen too.
type Watcher struct {
	cfg     Config
	files   map[string]bool
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	stopped bool
	mu      sync.Mutex
}

// New creates a new Watcher instance.
func New(cfg Config) (*Watcher, error) {
	if cfg.DebounceDuration <= 0 {
		cfg.DebounceDuration = DefaultDebounceDuration
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	files := make(map[string]bool, len(cfg.Files))
	for _, f := range cfg.Files {
		if abs, err := filepath.Abs(f); err == nil {
			files[abs] = true
		}
	}
	return &Watcher{
		cfg:    cfg,
		files:  files,
		fsw:    fsw,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return fmt.Errorf("watcher has been stopped and cannot be restarted")
	}

	dirs := make(map[string]bool)
	for f := range w.files {
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %q: %w", dir, err)
		}
	}

	w.started = true
	go w.eventLoop()
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	close(w.stopCh)
	_ = w.fsw.Close()
	w.mu.Unlock()

	if started {
		<-w.done
	}
}

// eventLoop batches events on watched files and calls OnChange once the
// debounce window passes without further events.
func (w *Watcher) eventLoop() {
	defer close(w.done)

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if name, err := filepath.Abs(event.Name); err != nil || !w.files[name] {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.cfg.DebounceDuration)
			} else {
				debounce.Reset(w.cfg.DebounceDuration)
			}
			fire = debounce.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.cfg.Log.Debug().Err(err).Msg("file watch error")

		case <-fire:
			fire = nil
			if w.cfg.OnChange != nil {
				w.cfg.OnChange()
			}
		}
	}
}
