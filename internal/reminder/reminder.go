// Package reminder decides when 'codestreak watch' should nudge the user.
package reminder

import (
	"context"
	"fmt"
	"time"

	"codestreak/backend"
	"codestreak/internal/cache"
	"codestreak/internal/config"
	"codestreak/internal/notification"
)

// dayLayout keys the once-a-day record of each reminder.
const dayLayout = "2006-01-02"

// Service evaluates refreshed state and sends due reminders.
type Service struct {
	config   config.NotificationsConfig
	cache    *cache.Manager
	notifier notification.Notifier
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a reminder service. Sent reminders are remembered in c
// so each kind fires at most once per local day.
func NewService(cfg config.NotificationsConfig, c *cache.Manager, notifier notification.Notifier, opts ...Option) *Service {
	s := &Service{config: cfg, cache: c, notifier: notifier, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check sends the reminders that user and queue call for and returns them.
// A reminder whose delivery fails is not recorded, so the next check retries it.
func (s *Service) Check(ctx context.Context, user backend.UserStats, queue backend.GroupedRevisions) ([]notification.Notification, error) {
	if !s.config.Enabled {
		return nil, nil
	}
	now := s.now()

	var due []notification.Notification
	if s.config.StreakAtRisk && !user.SolvedToday && user.StreakAtRiskToday {
		due = append(due, notification.Notification{
			Kind:      notification.KindStreakAtRisk,
			Title:     "Streak at risk",
			Message:   fmt.Sprintf("Your %d day streak ends tonight. Solve a problem to keep it.", user.CurrentStreak),
			Timestamp: now,
		})
	}
	if pending := len(queue.Overdue) + len(queue.Today); s.config.RevisionsDue && pending > 0 {
		msg := fmt.Sprintf("%d revisions due today", pending)
		if len(queue.Overdue) > 0 {
			msg += fmt.Sprintf(" (%d overdue)", len(queue.Overdue))
		}
		due = append(due, notification.Notification{
			Kind:      notification.KindRevisionsDue,
			Title:     "Revisions due",
			Message:   msg,
			Timestamp: now,
		})
	}

	var sent []notification.Notification
	today := now.Format(dayLayout)
	for _, n := range due {
		if s.SentOn(ctx, n.Kind) == today {
			continue
		}
		if err := s.notifier.Send(n); err != nil {
			return sent, fmt.Errorf("send %s reminder: %w", n.Kind, err)
		}
		if err := s.cache.SetString(ctx, cache.PrefixReminded+string(n.Kind), today); err != nil {
			return sent, err
		}
		sent = append(sent, n)
	}
	return sent, nil
}

// SentOn returns the day (YYYY-MM-DD) kind was last sent, or "".
func (s *Service) SentOn(ctx context.Context, kind notification.Kind) string {
	day, _ := s.cache.String(ctx, cache.PrefixReminded+string(kind))
	return day
}
