package backend

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by Store.Get when the key has no value.
var ErrNotFound = errors.New("key not found")

// Store is a durable, process-wide string-keyed blob store.
// Writes must be visible to the next read; values are always replaced whole.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error // Idempotent

	// Keys returns every key starting with prefix ("" lists all keys).
	Keys(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error

	Close() error
}

// UserStats is the signed-in user's streak and progress summary.
type UserStats struct {
	Username          string `json:"username"`
	CurrentStreak     int    `json:"current_streak"`
	LongestStreak     int    `json:"longest_streak"`
	XP                int    `json:"xp"`
	Money             int    `json:"money"`
	Level             int    `json:"level"`
	FreezesAvailable  int    `json:"freezes_available"`
	SolvedToday       bool   `json:"solved_today"`
	StreakAtRiskToday bool   `json:"streak_at_risk_today"`
}

// SolveStats counts solved problems by difficulty.
type SolveStats struct {
	Total       int `json:"total"`
	Easy        int `json:"easy"`
	Medium      int `json:"medium"`
	Hard        int `json:"hard"`
	SolvedToday int `json:"solved_today"`
}

// Solve is a single solved problem.
type Solve struct {
	ID          string    `json:"id"`
	ProblemSlug string    `json:"problem_slug"`
	Title       string    `json:"title"`
	Difficulty  string    `json:"difficulty"`
	Platform    string    `json:"platform"`
	SolvedAt    time.Time `json:"solved_at"`
}

// Achievement is one entry of the achievement catalog.
type Achievement struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}

// AchievementStats summarises the achievement catalog for a user.
type AchievementStats struct {
	Unlocked     int           `json:"unlocked"`
	Total        int           `json:"total"`
	Achievements []Achievement `json:"achievements"`
}

// FreezeCalendar lists the days a streak freeze was consumed (YYYY-MM-DD).
type FreezeCalendar struct {
	Dates     []string `json:"dates"`
	Available int      `json:"available"`
}

// RevisionMode selects the spaced-repetition scheduler.
type RevisionMode string

const (
	ModeNormal RevisionMode = "normal"
	ModeML     RevisionMode = "ml"
)

// RevisionModes lists every supported scheduling mode.
var RevisionModes = []RevisionMode{ModeNormal, ModeML}

// ParseRevisionMode parses a mode name, case-insensitively.
func ParseRevisionMode(s string) (RevisionMode, error) {
	switch RevisionMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeNormal, "":
		return ModeNormal, nil
	case ModeML:
		return ModeML, nil
	}
	return "", errors.New("unknown revision mode: " + s)
}

// Revision is a problem scheduled for review.
type Revision struct {
	ID           string    `json:"id"`
	ProblemSlug  string    `json:"problem_slug"`
	Title        string    `json:"title"`
	DueAt        time.Time `json:"due_at"`
	IntervalDays int       `json:"interval_days"`
	Ease         float64   `json:"ease"`
	Repetitions  int       `json:"repetitions"`
}

// GroupedRevisions buckets revisions by due date.
type GroupedRevisions struct {
	Overdue  []Revision `json:"overdue"`
	Today    []Revision `json:"today"`
	Upcoming []Revision `json:"upcoming"`
}

// Count returns the total number of revisions across all buckets.
func (g GroupedRevisions) Count() int {
	return len(g.Overdue) + len(g.Today) + len(g.Upcoming)
}

// RevisionStats summarises review progress for one mode.
type RevisionStats struct {
	DueToday       int     `json:"due_today"`
	Overdue        int     `json:"overdue"`
	CompletedToday int     `json:"completed_today"`
	Total          int     `json:"total"`
	RetentionRate  float64 `json:"retention_rate"`
}

// Friend is an accepted connection.
type Friend struct {
	Username      string `json:"username"`
	CurrentStreak int    `json:"current_streak"`
	XP            int    `json:"xp"`
	Money         int    `json:"money"`
	Level         int    `json:"level"`
}

// FriendRequest is a pending request in either direction.
type FriendRequest struct {
	ID           string    `json:"id"`
	FromUsername string    `json:"from_username"`
	ToUsername   string    `json:"to_username"`
	CreatedAt    time.Time `json:"created_at"`
}

// FriendStreak is a friend's streak status for today.
type FriendStreak struct {
	Username      string `json:"username"`
	CurrentStreak int    `json:"current_streak"`
	SolvedToday   bool   `json:"solved_today"`
}

// Profile is the public profile of any user.
type Profile struct {
	Username      string    `json:"username"`
	JoinedAt      time.Time `json:"joined_at"`
	CurrentStreak int       `json:"current_streak"`
	LongestStreak int       `json:"longest_streak"`
	XP            int       `json:"xp"`
	Level         int       `json:"level"`
	Bio           string    `json:"bio,omitempty"`
}

// Session is returned by login and registration.
type Session struct {
	Token string    `json:"token"`
	User  UserStats `json:"user"`
}

// FindFriend searches for a friend by username (case-insensitive).
// Returns nil if no match is found.
func FindFriend(friends []Friend, username string) *Friend {
	for _, f := range friends {
		if strings.EqualFold(f.Username, username) {
			return &f
		}
	}
	return nil
}
