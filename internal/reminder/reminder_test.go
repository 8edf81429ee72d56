package reminder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"codestreak/backend"
	"codestreak/backend/memory"
	"codestreak/internal/cache"
	"codestreak/internal/config"
	"codestreak/internal/notification"
	"codestreak/internal/reminder"
)

type fakeNotifier struct {
	sent []notification.Notification
	err  error
}

func (f *fakeNotifier) Send(n notification.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func allOn() config.NotificationsConfig {
	return config.NotificationsConfig{Enabled: true, StreakAtRisk: true, RevisionsDue: true}
}

var (
	atRisk = backend.UserStats{Username: "alice", CurrentStreak: 12, StreakAtRiskToday: true}
	queue  = backend.GroupedRevisions{
		Overdue: []backend.Revision{{ID: "r1"}},
		Today:   []backend.Revision{{ID: "r2"}},
	}
)

func newService(t *testing.T, cfg config.NotificationsConfig, n notification.Notifier) (*reminder.Service, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 10, 18, 0, 0, 0, time.Local)}
	return reminder.NewService(cfg, cache.NewManager(memory.New()), n, reminder.WithClock(clk.Now)), clk
}

func TestCheckSendsDueReminders(t *testing.T) {
	n := &fakeNotifier{}
	s, _ := newService(t, allOn(), n)

	sent, err := s.Check(context.Background(), atRisk, queue)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(sent) != 2 || len(n.sent) != 2 {
		t.Fatalf("sent %d (%d delivered), want 2", len(sent), len(n.sent))
	}
	if sent[0].Kind != notification.KindStreakAtRisk || sent[1].Kind != notification.KindRevisionsDue {
		t.Errorf("kinds = %s, %s", sent[0].Kind, sent[1].Kind)
	}
	if want := "2 revisions due today (1 overdue)"; sent[1].Message != want {
		t.Errorf("message = %q, want %q", sent[1].Message, want)
	}
	if got := s.SentOn(context.Background(), notification.KindStreakAtRisk); got != "2026-03-10" {
		t.Errorf("SentOn = %q", got)
	}
}

func TestCheckOncePerDay(t *testing.T) {
	n := &fakeNotifier{}
	s, clk := newService(t, allOn(), n)
	ctx := context.Background()

	if _, err := s.Check(ctx, atRisk, queue); err != nil {
		t.Fatal(err)
	}
	clk.t = clk.t.Add(time.Hour)
	sent, err := s.Check(ctx, atRisk, queue)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 0 {
		t.Errorf("resent %d reminders on the same day", len(sent))
	}

	clk.t = clk.t.Add(24 * time.Hour)
	sent, err = s.Check(ctx, atRisk, queue)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 2 {
		t.Errorf("sent %d reminders the next day, want 2", len(sent))
	}
}

func TestCheckConditions(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.NotificationsConfig
		user  backend.UserStats
		queue backend.GroupedRevisions
		want  int
	}{
		{"disabled", config.NotificationsConfig{StreakAtRisk: true, RevisionsDue: true}, atRisk, queue, 0},
		{"solved today", allOn(), backend.UserStats{CurrentStreak: 12, SolvedToday: true, StreakAtRiskToday: true}, backend.GroupedRevisions{}, 0},
		{"not at risk", allOn(), backend.UserStats{CurrentStreak: 12}, backend.GroupedRevisions{}, 0},
		{"only upcoming", allOn(), backend.UserStats{}, backend.GroupedRevisions{Upcoming: []backend.Revision{{ID: "r3"}}}, 0},
		{"streak reminders off", config.NotificationsConfig{Enabled: true, RevisionsDue: true}, atRisk, queue, 1},
		{"revision reminders off", config.NotificationsConfig{Enabled: true, StreakAtRisk: true}, atRisk, queue, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newService(t, tt.cfg, &fakeNotifier{})
			sent, err := s.Check(context.Background(), tt.user, tt.queue)
			if err != nil {
				t.Fatal(err)
			}
			if len(sent) != tt.want {
				t.Errorf("sent %d, want %d", len(sent), tt.want)
			}
		})
	}
}

func TestCheckFailedDeliveryRetried(t *testing.T) {
	n := &fakeNotifier{err: errors.New("no display")}
	s, _ := newService(t, allOn(), n)
	ctx := context.Background()

	if _, err := s.Check(ctx, atRisk, backend.GroupedRevisions{}); err == nil {
		t.Fatal("expected the delivery error")
	}
	if got := s.SentOn(ctx, notification.KindStreakAtRisk); got != "" {
		t.Errorf("failed reminder recorded as sent on %q", got)
	}

	n.err = nil
	sent, err := s.Check(ctx, atRisk, backend.GroupedRevisions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 {
		t.Errorf("sent %d after recovery, want 1", len(sent))
	}
}
