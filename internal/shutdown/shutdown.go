// Package shutdown coordinates graceful exit of long-running commands
// (watch, dashboard): a signal cancels the root context, then registered
// cleanups run in reverse registration order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"codestreak/internal/utils"
)

// DefaultTimeout bounds the time cleanups may take.
const DefaultTimeout = 5 * time.Second

// CleanupFunc releases one resource. ctx expires when the shutdown times out.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager handles graceful shutdown coordination.
type Manager struct {
	log zerolog.Logger

	mu       sync.Mutex
	cleanups []cleanupEntry
	shutdown bool
	signal   os.Signal

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	ran    sync.Once
	result error
}

// NewManager creates a manager whose Context is derived from parent.
func NewManager(parent context.Context) *Manager {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		log:    utils.Log().With().Str("component", "shutdown").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetLogger replaces the logger used for cleanup failures.
func (m *Manager) SetLogger(log zerolog.Logger) {
	m.log = log
}

// RegisterCleanup registers fn. Cleanups run last registered, first called.
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// Listen calls Shutdown on the first of signals (SIGINT and SIGTERM when
// none are given). The returned function stops listening.
func (m *Manager) Listen(signals ...os.Signal) func() {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	stop := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			m.mu.Lock()
			m.signal = sig
			m.mu.Unlock()
			m.log.Debug().Str("signal", sig.String()).Msg("shutdown requested")
			m.Shutdown()
		case <-stop:
		case <-m.ctx.Done():
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(stop)
		})
	}
}

// Shutdown cancels Context. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		m.shutdown = true
		m.mu.Unlock()
		m.cancel()
	})
}

// Wait runs the cleanups once and returns their joined errors, or ctx's
// error if they do not finish in time. Later calls return the first result.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.ran.Do(func() { m.result = m.runCleanups(ctx) })
		close(done)
	}()

	select {
	case <-done:
		return m.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close triggers Shutdown and waits up to DefaultTimeout for the cleanups.
func (m *Manager) Close() error {
	m.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	return m.Wait(ctx)
}

func (m *Manager) runCleanups(ctx context.Context) error {
	m.mu.Lock()
	cleanups := make([]cleanupEntry, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if err := c.fn(ctx); err != nil {
			m.log.Warn().Err(err).Str("cleanup", c.name).Msg("cleanup failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// IsShutdown reports whether shutdown has been initiated.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Signal returns the signal that triggered the shutdown, if any.
func (m *Manager) Signal() os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signal
}

// Context is cancelled when shutdown starts.
func (m *Manager) Context() context.Context {
	return m.ctx
}
