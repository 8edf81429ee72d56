// Package friends holds the friends graph and the public profiles of other
// users.
package friends

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"codestreak/backend"
	"codestreak/internal/cache"
	"codestreak/internal/loader"
)

// API is the subset of the REST client used by the friends area.
type API interface {
	Friends(ctx context.Context) ([]backend.Friend, error)
	ReceivedRequests(ctx context.Context) ([]backend.FriendRequest, error)
	SentRequests(ctx context.Context) ([]backend.FriendRequest, error)
	FriendStreaks(ctx context.Context) ([]backend.FriendStreak, error)

	SendFriendRequest(ctx context.Context, username string) error
	AcceptRequest(ctx context.Context, id string) error
	RejectRequest(ctx context.Context, id string) error
	CancelRequest(ctx context.Context, id string) error
	RemoveFriend(ctx context.Context, username string) error

	UserProfile(ctx context.Context, username string) (backend.Profile, error)
	UserSolves(ctx context.Context, username string) ([]backend.Solve, error)
	UserAchievements(ctx context.Context, username string) (backend.AchievementStats, error)
}

// Slot names.
const (
	SlotList         = "list"
	SlotReceived     = "received"
	SlotSent         = "sent"
	SlotStreaks      = "streaks"
	SlotProfile      = "profile"
	SlotSolves       = "solves"
	SlotAchievements = "achievements"
)

// State is the friends payload.
type State struct {
	Friends  []backend.Friend        `json:"friends"`
	Received []backend.FriendRequest `json:"received"`
	Sent     []backend.FriendRequest `json:"sent"`
	Streaks  []backend.FriendStreak  `json:"streaks"`
}

// ProfileState is the public view of one user.
type ProfileState struct {
	Profile      backend.Profile          `json:"profile"`
	Solves       []backend.Solve          `json:"solves"`
	Achievements backend.AchievementStats `json:"achievements"`
}

// Snapshot is a published friends state.
type Snapshot = loader.Snapshot[State]

// ProfileSnapshot is a published profile state.
type ProfileSnapshot = loader.Snapshot[ProfileState]

// ErrEmptyArgument is returned by mutations given a blank username or id.
var ErrEmptyArgument = errors.New("argument must not be empty")

// Friends loads the friends graph and applies mutations to it.
type Friends struct {
	*loader.Loader[State]
	api    API
	cache  *cache.Manager
	shared loader.Shared

	mu       sync.Mutex
	profiles map[string]*loader.Loader[ProfileState]
}

// New creates the friends loader.
func New(api API, c *cache.Manager, shared loader.Shared) *Friends {
	slots := []loader.Slot[State]{
		loader.NewSlot(SlotList, cache.KeyFriendsList, 0, true, api.Friends,
			func(s *State, v []backend.Friend) { s.Friends = v }),
		loader.NewSlot(SlotReceived, cache.KeyRequestsReceived, 0, true, api.ReceivedRequests,
			func(s *State, v []backend.FriendRequest) { s.Received = v }),
		loader.NewSlot(SlotSent, cache.KeyRequestsSent, 0, true, api.SentRequests,
			func(s *State, v []backend.FriendRequest) { s.Sent = v }),
		loader.NewSlot(SlotStreaks, cache.KeyFriendStreaks, 0, false, api.FriendStreaks,
			func(s *State, v []backend.FriendStreak) { s.Streaks = v }),
	}
	opts := append(loader.SharedOptions[State](shared), loader.WithGroup[State](cache.GroupFriends))
	return &Friends{
		Loader:   loader.New("friends", c, slots, opts...),
		api:      api,
		cache:    c,
		shared:   shared,
		profiles: make(map[string]*loader.Loader[ProfileState]),
	}
}

// SendRequest sends a friend request to username.
func (f *Friends) SendRequest(ctx context.Context, username string) (Snapshot, error) {
	return f.mutate(ctx, "send friend request", username, f.api.SendFriendRequest)
}

// Accept accepts the received request id.
func (f *Friends) Accept(ctx context.Context, id string) (Snapshot, error) {
	return f.mutate(ctx, "accept request", id, f.api.AcceptRequest)
}

// Reject rejects the received request id.
func (f *Friends) Reject(ctx context.Context, id string) (Snapshot, error) {
	return f.mutate(ctx, "reject request", id, f.api.RejectRequest)
}

// Cancel withdraws the sent request id.
func (f *Friends) Cancel(ctx context.Context, id string) (Snapshot, error) {
	return f.mutate(ctx, "cancel request", id, f.api.CancelRequest)
}

// Remove unfriends username.
func (f *Friends) Remove(ctx context.Context, username string) (Snapshot, error) {
	return f.mutate(ctx, "remove friend", username, f.api.RemoveFriend)
}

// mutate calls the server, drops the friends group and reloads it.
func (f *Friends) mutate(ctx context.Context, op, arg string, call func(context.Context, string) error) (Snapshot, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return f.Current(), fmt.Errorf("%s: %w", op, ErrEmptyArgument)
	}
	if err := call(ctx, arg); err != nil {
		return f.Current(), fmt.Errorf("%s: %w", op, err)
	}
	if err := f.cache.InvalidateGroup(ctx, cache.GroupFriends); err != nil {
		return f.Current(), fmt.Errorf("%s: %w", op, err)
	}
	return f.Load(ctx, loader.Options{ForceRefresh: true}), nil
}

// FindRequest looks up a received or sent request by the other user's name
// in the last published state.
func (f *Friends) FindRequest(username string) (backend.FriendRequest, bool) {
	cur := f.Current()
	for _, r := range cur.Data.Received {
		if strings.EqualFold(r.FromUsername, username) {
			return r, true
		}
	}
	for _, r := range cur.Data.Sent {
		if strings.EqualFold(r.ToUsername, username) {
			return r, true
		}
	}
	return backend.FriendRequest{}, false
}

// ProfileLoader returns the loader of username's public profile, creating
// it on first use.
func (f *Friends) ProfileLoader(username string) *loader.Loader[ProfileState] {
	key := strings.ToLower(strings.TrimSpace(username))

	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.profiles[key]; ok {
		return l
	}

	slots := []loader.Slot[ProfileState]{
		loader.NewSlot(SlotProfile, cache.ProfileKey(key), 0, true,
			func(ctx context.Context) (backend.Profile, error) { return f.api.UserProfile(ctx, key) },
			func(s *ProfileState, v backend.Profile) { s.Profile = v }),
		loader.NewSlot(SlotSolves, cache.SolvesKey(key), 0, false,
			func(ctx context.Context) ([]backend.Solve, error) { return f.api.UserSolves(ctx, key) },
			func(s *ProfileState, v []backend.Solve) { s.Solves = v }),
		loader.NewSlot(SlotAchievements, cache.AchievementsKey(key), 0, false,
			func(ctx context.Context) (backend.AchievementStats, error) { return f.api.UserAchievements(ctx, key) },
			func(s *ProfileState, v backend.AchievementStats) { s.Achievements = v }),
	}
	l := loader.New("profile", f.cache, slots, loader.SharedOptions[ProfileState](f.shared)...)
	f.profiles[key] = l
	return l
}

// Profile loads username's public profile. A refresh re-fetches only that
// user's entries.
func (f *Friends) Profile(ctx context.Context, username string, opts loader.Options) (ProfileSnapshot, error) {
	if strings.TrimSpace(username) == "" {
		return ProfileSnapshot{}, fmt.Errorf("profile: %w", ErrEmptyArgument)
	}
	l := f.ProfileLoader(username)
	if opts.ForceRefresh {
		key := strings.ToLower(strings.TrimSpace(username))
		for _, k := range []string{cache.ProfileKey(key), cache.SolvesKey(key), cache.AchievementsKey(key)} {
			_ = f.cache.Invalidate(ctx, k)
		}
	}
	return l.Load(ctx, opts), nil
}

// Reset clears the published friends state and every profile.
func (f *Friends) Reset() {
	f.Loader.Reset()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.profiles {
		l.Reset()
	}
}

// Close stops the friends loader and every profile loader.
func (f *Friends) Close() {
	f.Loader.Close()
	f.mu.Lock()
	profiles := f.profiles
	f.profiles = make(map[string]*loader.Loader[ProfileState])
	f.mu.Unlock()
	for _, l := range profiles {
		l.Close()
	}
}
