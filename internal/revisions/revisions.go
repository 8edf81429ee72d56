// Package revisions holds the spaced-repetition queue for each scheduling
// mode.
package revisions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"codestreak/backend"
	"codestreak/internal/cache"
	"codestreak/internal/loader"
	"codestreak/internal/utils"
)

// API is the subset of the REST client used by the revisions area.
type API interface {
	Revisions(ctx context.Context, mode backend.RevisionMode) (backend.GroupedRevisions, error)
	RevisionStats(ctx context.Context, mode backend.RevisionMode) (backend.RevisionStats, error)
	CompleteRevision(ctx context.Context, id string, quality int, mode backend.RevisionMode) error
}

// Slot names.
const (
	SlotGrouped = "grouped"
	SlotStats   = "stats"
)

// State is the revision queue of one mode.
type State struct {
	Mode    backend.RevisionMode     `json:"mode"`
	Grouped backend.GroupedRevisions `json:"grouped"`
	Stats   backend.RevisionStats    `json:"stats"`
}

// Snapshot is a published revisions state.
type Snapshot = loader.Snapshot[State]

// Revisions owns one loader per scheduling mode.
type Revisions struct {
	api     API
	cache   *cache.Manager
	loaders map[backend.RevisionMode]*loader.Loader[State]
}

// New creates a loader for every mode in backend.RevisionModes.
func New(api API, c *cache.Manager, shared loader.Shared) *Revisions {
	r := &Revisions{
		api:     api,
		cache:   c,
		loaders: make(map[backend.RevisionMode]*loader.Loader[State]),
	}
	for _, mode := range backend.RevisionModes {
		r.loaders[mode] = newLoader(api, c, shared, mode)
	}
	return r
}

func newLoader(api API, c *cache.Manager, shared loader.Shared, mode backend.RevisionMode) *loader.Loader[State] {
	slots := []loader.Slot[State]{
		loader.NewSlot(SlotGrouped, cache.RevisionsGroupedKey(mode), 0, true,
			func(ctx context.Context) (backend.GroupedRevisions, error) { return api.Revisions(ctx, mode) },
			func(s *State, v backend.GroupedRevisions) {
				s.Mode = mode
				s.Grouped = v
			}),
		loader.NewSlot(SlotStats, cache.RevisionStatsKey(mode), 0, true,
			func(ctx context.Context) (backend.RevisionStats, error) { return api.RevisionStats(ctx, mode) },
			func(s *State, v backend.RevisionStats) {
				s.Mode = mode
				s.Stats = v
			}),
	}
	opts := append(loader.SharedOptions[State](shared), loader.WithGroup[State](cache.GroupRevisions))
	return loader.New("revisions."+string(mode), c, slots, opts...)
}

// Loader returns the loader of mode. Unknown modes get the normal loader.
func (r *Revisions) Loader(mode backend.RevisionMode) *loader.Loader[State] {
	if l, ok := r.loaders[mode]; ok {
		return l
	}
	return r.loaders[backend.ModeNormal]
}

// Load runs a load cycle for mode.
func (r *Revisions) Load(ctx context.Context, mode backend.RevisionMode, opts loader.Options) Snapshot {
	return r.Loader(mode).Load(ctx, opts)
}

// Complete grades revision id, drops the revisions and home groups (XP and
// counters change with every review) and reloads the queue of mode.
func (r *Revisions) Complete(ctx context.Context, id string, quality int, mode backend.RevisionMode) (Snapshot, error) {
	l := r.Loader(mode)
	id = strings.TrimSpace(id)
	if id == "" {
		return l.Current(), errors.New("complete revision: id is required")
	}
	if err := utils.ValidateQuality(quality); err != nil {
		return l.Current(), err
	}
	if err := r.api.CompleteRevision(ctx, id, quality, mode); err != nil {
		return l.Current(), fmt.Errorf("complete revision: %w", err)
	}

	var errs []error
	for _, g := range []cache.Group{cache.GroupRevisions, cache.GroupHome} {
		if err := r.cache.InvalidateGroup(ctx, g); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return l.Current(), fmt.Errorf("complete revision: %w", err)
	}
	return l.Load(ctx, loader.Options{ForceRefresh: true}), nil
}

// Reset clears the published state of every mode.
func (r *Revisions) Reset() {
	for _, l := range r.loaders {
		l.Reset()
	}
}

// Close stops every mode's loader.
func (r *Revisions) Close() {
	for _, l := range r.loaders {
		l.Close()
	}
}
