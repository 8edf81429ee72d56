package cache

import (
	"sort"
	"strings"
	"time"

	"codestreak/backend"
)

// Tier is a freshness class. TTL is a static property of the key.
type Tier int

const (
	TierShort Tier = iota
	TierLong
)

// Default durations of the TTL tiers.
const (
	TTLShort = 15 * time.Minute
	TTLLong  = 60 * time.Minute
)

// Group names an invalidation set.
type Group string

const (
	GroupHome      Group = "home"
	GroupRevisions Group = "revisions"
	GroupFriends   Group = "friends"
)

// Home keys.
const (
	KeyUserStats        = "home.user_stats"
	KeySolveStats       = "home.solve_stats"
	KeyRecentSolves     = "home.recent_solves"
	KeyAchievementStats = "home.achievement_stats"
	KeyFreezeDates      = "home.freeze_dates"
)

// Friends keys.
const (
	KeyFriendsList      = "friends.list"
	KeyRequestsReceived = "friends.requests.received"
	KeyRequestsSent     = "friends.requests.sent"
	KeyFriendStreaks    = "friends.streaks"
)

// Per-username prefix families under the friends group.
const (
	PrefixProfile      = "friends.profile."
	PrefixSolves       = "friends.solves."
	PrefixAchievements = "friends.achievements."
)

// Flags stored outside any group and without a timestamp.
const (
	FlagSubscribed = "account.subscribed"
	FlagAvatarPath = "account.avatar_path"
	FlagUsername   = "account.username"
)

// PrefixReminded holds the last day each reminder kind was sent.
const PrefixReminded = "account.reminded."

// tsSuffix derives the timestamp slot of a key.
const tsSuffix = "#ts"

// TimestampKey returns the storage slot holding the write time of key.
func TimestampKey(key string) string {
	return key + tsSuffix
}

// RevisionsGroupedKey returns the grouped-revisions key of a scheduling mode.
func RevisionsGroupedKey(mode backend.RevisionMode) string {
	return "revisions.grouped." + string(mode)
}

// RevisionStatsKey returns the revision-stats key of a scheduling mode.
func RevisionStatsKey(mode backend.RevisionMode) string {
	return "revisions.stats." + string(mode)
}

// ProfileKey returns the cached public profile key of username.
func ProfileKey(username string) string { return PrefixProfile + username }

// SolvesKey returns the cached recent solves key of username.
func SolvesKey(username string) string { return PrefixSolves + username }

// AchievementsKey returns the cached achievements key of username.
func AchievementsKey(username string) string { return PrefixAchievements + username }

// KeySpec describes a registered key or prefix family.
type KeySpec struct {
	Key    string
	Tier   Tier
	Group  Group
	Prefix bool
}

var registry = func() []KeySpec {
	specs := []KeySpec{
		{Key: KeyUserStats, Tier: TierShort, Group: GroupHome},
		{Key: KeySolveStats, Tier: TierShort, Group: GroupHome},
		{Key: KeyRecentSolves, Tier: TierShort, Group: GroupHome},
		{Key: KeyAchievementStats, Tier: TierLong, Group: GroupHome},
		{Key: KeyFreezeDates, Tier: TierLong, Group: GroupHome},

		{Key: KeyFriendsList, Tier: TierShort, Group: GroupFriends},
		{Key: KeyRequestsReceived, Tier: TierShort, Group: GroupFriends},
		{Key: KeyRequestsSent, Tier: TierShort, Group: GroupFriends},
		{Key: KeyFriendStreaks, Tier: TierShort, Group: GroupFriends},
		{Key: PrefixProfile, Tier: TierShort, Group: GroupFriends, Prefix: true},
		{Key: PrefixSolves, Tier: TierShort, Group: GroupFriends, Prefix: true},
		{Key: PrefixAchievements, Tier: TierLong, Group: GroupFriends, Prefix: true},
	}
	for _, mode := range backend.RevisionModes {
		specs = append(specs,
			KeySpec{Key: RevisionsGroupedKey(mode), Tier: TierShort, Group: GroupRevisions},
			KeySpec{Key: RevisionStatsKey(mode), Tier: TierShort, Group: GroupRevisions},
		)
	}
	return specs
}()

// LookupSpec resolves a concrete key to its registration, matching prefix families.
func LookupSpec(key string) (KeySpec, bool) {
	for _, s := range registry {
		if s.Prefix {
			if strings.HasPrefix(key, s.Key) && len(key) > len(s.Key) {
				return s, true
			}
			continue
		}
		if s.Key == key {
			return s, true
		}
	}
	return KeySpec{}, false
}

// Groups returns every invalidation group, sorted.
func Groups() []Group {
	seen := map[Group]bool{}
	var groups []Group
	for _, s := range registry {
		if !seen[s.Group] {
			seen[s.Group] = true
			groups = append(groups, s.Group)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups
}

// ParseGroup validates a group name.
func ParseGroup(name string) (Group, bool) {
	for _, g := range Groups() {
		if string(g) == strings.ToLower(strings.TrimSpace(name)) {
			return g, true
		}
	}
	return "", false
}

// GroupKeys returns the static keys registered under group.
func GroupKeys(group Group) []string {
	var keys []string
	for _, s := range registry {
		if s.Group == group && !s.Prefix {
			keys = append(keys, s.Key)
		}
	}
	return keys
}

// GroupPrefixes returns the prefix families registered under group.
func GroupPrefixes(group Group) []string {
	var prefixes []string
	for _, s := range registry {
		if s.Group == group && s.Prefix {
			prefixes = append(prefixes, s.Key)
		}
	}
	return prefixes
}
