// Package notification delivers streak reminders to the desktop and the log.
package notification

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"codestreak/internal/config"
)

// Kind identifies what a notification is about
type Kind string

const (
	KindStreakAtRisk Kind = "streak_at_risk"
	KindRevisionsDue Kind = "revisions_due"
	KindTest         Kind = "test"
)

// Notification represents a notification to be sent
type Notification struct {
	Kind      Kind
	Title     string
	Message   string
	Timestamp time.Time
}

// Notifier is what reminders are sent through.
type Notifier interface {
	Send(n Notification) error
}

// Channel is one delivery target.
type Channel interface {
	Send(n Notification) error
	Close() error
}

// CommandExecutor is the interface for executing system commands
type CommandExecutor interface {
	Execute(cmd string, args ...string) error
}

// MockCommandExecutor is a mock implementation of CommandExecutor for testing
type MockCommandExecutor struct {
	ExecuteFunc func(cmd string, args ...string) error
}

// Execute implements CommandExecutor
func (m *MockCommandExecutor) Execute(cmd string, args ...string) error {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(cmd, args...)
	}
	return nil
}

// Option is a functional option for configuring the manager and its channels
type Option func(interface{})

// WithCommandExecutor sets a custom command executor
func WithCommandExecutor(executor CommandExecutor) Option {
	return func(c interface{}) {
		if ch, ok := c.(*desktopChannel); ok {
			ch.executor = executor
		}
		if mgr, ok := c.(*Manager); ok {
			mgr.osOpts = append(mgr.osOpts, WithCommandExecutor(executor))
		}
	}
}

// WithPlatform sets the platform for desktop notifications
func WithPlatform(platform string) Option {
	return func(c interface{}) {
		if ch, ok := c.(*desktopChannel); ok {
			ch.platform = platform
		}
		if mgr, ok := c.(*Manager); ok {
			mgr.osOpts = append(mgr.osOpts, WithPlatform(platform))
		}
	}
}

// WithLogger sets the logger of the log channel
func WithLogger(log zerolog.Logger) Option {
	return func(c interface{}) {
		if mgr, ok := c.(*Manager); ok {
			mgr.log = &log
		}
	}
}

// Manager fans a notification out to every configured channel.
type Manager struct {
	mu       sync.Mutex
	channels []Channel
	enabled  bool
	osOpts   []Option
	log      *zerolog.Logger
}

// NewManager builds the channels cfg enables. The log channel is on whenever
// notifications are and a logger was given; the desktop channel needs cfg.Desktop.
func NewManager(cfg config.NotificationsConfig, opts ...Option) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	m.configure(cfg)
	return m
}

// Reconfigure closes the current channels and builds the ones cfg enables.
func (m *Manager) Reconfigure(cfg config.NotificationsConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeChannels()
	m.configure(cfg)
}

func (m *Manager) configure(cfg config.NotificationsConfig) {
	m.enabled = cfg.Enabled
	m.channels = nil
	if !cfg.Enabled {
		return
	}
	if m.log != nil {
		m.channels = append(m.channels, NewLogChannel(*m.log))
	}
	if cfg.Desktop {
		m.channels = append(m.channels, NewDesktopChannel(m.osOpts...))
	}
}

// Send dispatches n to all channels and returns the last failure.
func (m *Manager) Send(n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var lastErr error
	for _, ch := range m.channels {
		if err := ch.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close cleans up resources
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeChannels()
}

func (m *Manager) closeChannels() error {
	var lastErr error
	for _, ch := range m.channels {
		if err := ch.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ChannelCount returns the number of active channels
func (m *Manager) ChannelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// logChannel records notifications as structured log events.
type logChannel struct {
	log zerolog.Logger
}

// NewLogChannel creates a channel writing to log.
func NewLogChannel(log zerolog.Logger) Channel {
	return &logChannel{log: log}
}

func (c *logChannel) Send(n Notification) error {
	c.log.Info().
		Str("kind", string(n.Kind)).
		Time("at", n.Timestamp).
		Str("title", n.Title).
		Msg(n.Message)
	return nil
}

func (c *logChannel) Close() error {
	return nil
}
