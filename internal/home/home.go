// Package home holds the dashboard state: streak, solve counts, recent
// solves, achievements and the freeze calendar.
package home

import (
	"context"

	"codestreak/backend"
	"codestreak/internal/cache"
	"codestreak/internal/loader"
)

// API is the subset of the REST client the dashboard reads.
type API interface {
	UserStats(ctx context.Context) (backend.UserStats, error)
	SolveStats(ctx context.Context) (backend.SolveStats, error)
	RecentSolves(ctx context.Context) ([]backend.Solve, error)
	AchievementStats(ctx context.Context) (backend.AchievementStats, error)
	FreezeDates(ctx context.Context) (backend.FreezeCalendar, error)
	Subscription(ctx context.Context) (bool, error)
}

// Slot names.
const (
	SlotUserStats    = "user_stats"
	SlotSolveStats   = "solve_stats"
	SlotRecentSolves = "recent_solves"
	SlotAchievements = "achievement_stats"
	SlotFreezes      = "freeze_dates"
)

// State is the dashboard payload.
type State struct {
	UserStats    backend.UserStats        `json:"user_stats"`
	SolveStats   backend.SolveStats       `json:"solve_stats"`
	RecentSolves []backend.Solve          `json:"recent_solves"`
	Achievements backend.AchievementStats `json:"achievement_stats"`
	Freezes      backend.FreezeCalendar   `json:"freeze_dates"`
}

// Snapshot is a published dashboard state.
type Snapshot = loader.Snapshot[State]

// Home loads the dashboard.
type Home struct {
	*loader.Loader[State]
	api   API
	cache *cache.Manager
}

// New creates the dashboard loader.
func New(api API, c *cache.Manager, shared loader.Shared) *Home {
	slots := []loader.Slot[State]{
		loader.NewSlot(SlotUserStats, cache.KeyUserStats, 0, true, api.UserStats,
			func(s *State, v backend.UserStats) { s.UserStats = v }),
		loader.NewSlot(SlotSolveStats, cache.KeySolveStats, 0, true, api.SolveStats,
			func(s *State, v backend.SolveStats) { s.SolveStats = v }),
		loader.NewSlot(SlotRecentSolves, cache.KeyRecentSolves, 0, true, api.RecentSolves,
			func(s *State, v []backend.Solve) { s.RecentSolves = v }),
		loader.NewSlot(SlotAchievements, cache.KeyAchievementStats, 0, false, api.AchievementStats,
			func(s *State, v backend.AchievementStats) { s.Achievements = v }),
		loader.NewSlot(SlotFreezes, cache.KeyFreezeDates, 0, false, api.FreezeDates,
			func(s *State, v backend.FreezeCalendar) { s.Freezes = v }),
	}
	opts := append(loader.SharedOptions[State](shared), loader.WithGroup[State](cache.GroupHome))
	return &Home{
		Loader: loader.New("home", c, slots, opts...),
		api:    api,
		cache:  c,
	}
}

// RefreshSubscription asks the server for the subscription status and
// stores it in the account flag.
func (h *Home) RefreshSubscription(ctx context.Context) (bool, error) {
	subscribed, err := h.api.Subscription(ctx)
	if err != nil {
		return h.Subscribed(ctx), err
	}
	if err := h.cache.SetBool(ctx, cache.FlagSubscribed, subscribed); err != nil {
		return subscribed, err
	}
	return subscribed, nil
}

// Subscribed returns the stored subscription flag.
func (h *Home) Subscribed(ctx context.Context) bool {
	return h.cache.Bool(ctx, cache.FlagSubscribed)
}
