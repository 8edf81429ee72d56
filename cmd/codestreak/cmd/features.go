package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"codestreak/backend"
	"codestreak/internal/cli/prompt"
	"codestreak/internal/friends"
	"codestreak/internal/home"
	"codestreak/internal/loader"
	"codestreak/internal/revisions"
	"codestreak/internal/utils"
)

// snapshotJSON is the --json form of a loaded feature.
type snapshotJSON[S any] struct {
	Phase     string `json:"phase"`
	FromCache bool   `json:"from_cache"`
	Error     string `json:"error,omitempty"`
	Data      S      `json:"data"`
}

// styles renders headings only when stdout is a terminal.
type styles struct {
	title lipgloss.Style
	dim   lipgloss.Style
	warn  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title: r.NewStyle().Bold(true),
		dim:   r.NewStyle().Faint(true),
		warn:  r.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

// loadFunc runs one load cycle and returns its first settled snapshot.
type loadFunc[S any] func(ctx context.Context) (loader.Snapshot[S], error)

// loadWith adapts a plain loader.
func loadWith[S any](l *loader.Loader[S], opts loader.Options) loadFunc[S] {
	return func(ctx context.Context) (loader.Snapshot[S], error) {
		return l.Load(ctx, opts), nil
	}
}

// show runs load. A cache hit is printed at once, marked "(cached)"; the
// refreshed state of l follows if the background refresh changed it.
// primary names the slot without which there is nothing to show.
func show[S any](ctx context.Context, a *app, l *loader.Loader[S], load loadFunc[S], primary string, render func(w io.Writer, st styles, data S)) error {
	if err := a.requireLogin(ctx); err != nil {
		return err
	}
	st := newStyles(a.stdout)

	snap, err := load(ctx)
	if err != nil {
		return err
	}
	if snap.FromCache {
		if !a.jsonOutput() {
			_, _ = fmt.Fprintln(a.stdout, st.dim.Render("(cached)"))
			render(a.stdout, st, snap.Data)
		}
		l.Wait()
		latest := l.Current()
		if latest.Phase != loader.PhaseReady {
			latest = snap
		}
		if a.jsonOutput() {
			return writeJSON(a.stdout, toJSON(latest))
		}
		if latest.Phase == loader.PhaseReady && !reflect.DeepEqual(latest.Data, snap.Data) {
			_, _ = fmt.Fprintln(a.stdout)
			_, _ = fmt.Fprintln(a.stdout, st.dim.Render("(updated)"))
			render(a.stdout, st, latest.Data)
		}
		a.infoOnly()
		return nil
	}

	if !snap.Has(primary) {
		if !a.auth.IsAuthenticated(ctx) {
			return utils.ErrSessionExpired()
		}
		return fmt.Errorf("%s could not be loaded: %s", l.Name(), snap.Err)
	}
	if a.jsonOutput() {
		return writeJSON(a.stdout, toJSON(snap))
	}
	render(a.stdout, st, snap.Data)
	if snap.Err != "" {
		_, _ = fmt.Fprintln(a.stderr, st.warn.Render("Some data could not be loaded: "+snap.Err))
	}
	a.infoOnly()
	return nil
}

func toJSON[S any](snap loader.Snapshot[S]) snapshotJSON[S] {
	return snapshotJSON[S]{
		Phase:     snap.Phase.String(),
		FromCache: snap.FromCache,
		Error:     snap.Err,
		Data:      snap.Data,
	}
}

// newHomeCmd creates the 'home' subcommand
func newHomeCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "home",
		Short: "Show your streak, stats and recent solves",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			refresh, _ := cmd.Flags().GetBool("refresh")
			if err := show(ctx, a, a.home.Loader, loadWith(a.home.Loader, loader.Options{ForceRefresh: refresh}), home.SlotUserStats, renderHome); err != nil {
				return err
			}
			if _, err := a.home.RefreshSubscription(ctx); err != nil {
				a.log.Debug().Err(err).Msg("subscription status not refreshed")
			}
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().Bool("refresh", false, "Bypass the cache")
	return cmd
}

func renderHome(w io.Writer, st styles, h home.State) {
	u := h.UserStats
	_, _ = fmt.Fprintln(w, st.title.Render(u.Username))
	_, _ = fmt.Fprintf(w, "Streak: %d days (best %d)\n", u.CurrentStreak, u.LongestStreak)
	switch {
	case u.SolvedToday:
		_, _ = fmt.Fprintln(w, "Today: solved")
	case u.StreakAtRiskToday:
		_, _ = fmt.Fprintln(w, st.warn.Render("Today: streak at risk"))
	default:
		_, _ = fmt.Fprintln(w, "Today: not solved yet")
	}
	_, _ = fmt.Fprintf(w, "Level %d, %d XP, %d coins\n", u.Level, u.XP, u.Money)

	s := h.SolveStats
	_, _ = fmt.Fprintf(w, "Solved: %d (easy %d, medium %d, hard %d), %d today\n", s.Total, s.Easy, s.Medium, s.Hard, s.SolvedToday)
	if h.Achievements.Total > 0 {
		_, _ = fmt.Fprintf(w, "Achievements: %d/%d\n", h.Achievements.Unlocked, h.Achievements.Total)
	}
	if len(h.Freezes.Dates) > 0 || h.Freezes.Available > 0 {
		_, _ = fmt.Fprintf(w, "Freezes: %d available", h.Freezes.Available)
		if len(h.Freezes.Dates) > 0 {
			_, _ = fmt.Fprintf(w, ", used on %s", strings.Join(h.Freezes.Dates, ", "))
		}
		_, _ = fmt.Fprintln(w)
	}
	if len(h.RecentSolves) > 0 {
		_, _ = fmt.Fprintln(w, "Recent solves:")
		for _, solve := range h.RecentSolves {
			_, _ = fmt.Fprintf(w, "  %s (%s, %s)\n", solve.Title, solve.Difficulty, solve.Platform)
		}
	}
}

// newFriendsCmd creates the 'friends' subcommand
func newFriendsCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	friendsCmd := &cobra.Command{
		Use:   "friends",
		Short: "Show friends and pending requests",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			refresh, _ := cmd.Flags().GetBool("refresh")
			return show(ctx, a, a.friends.Loader, loadWith(a.friends.Loader, loader.Options{ForceRefresh: refresh}), friends.SlotList, renderFriends)
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	friendsCmd.Flags().Bool("refresh", false, "Bypass the cache")

	friendsCmd.AddCommand(newFriendMutationCmd(stdout, stderr, cfg, "add <username>", "Send a friend request",
		func(ctx context.Context, a *app, arg string) (string, error) {
			_, err := a.friends.SendRequest(ctx, arg)
			return "Friend request sent to " + arg, err
		}))
	friendsCmd.AddCommand(newFriendMutationCmd(stdout, stderr, cfg, "accept [username|request-id]", "Accept a received request",
		func(ctx context.Context, a *app, arg string) (string, error) {
			_, err := a.friends.Accept(ctx, a.requestID(ctx, arg))
			return "Accepted friend request from " + arg, err
		}))
	friendsCmd.AddCommand(newFriendMutationCmd(stdout, stderr, cfg, "reject [username|request-id]", "Reject a received request",
		func(ctx context.Context, a *app, arg string) (string, error) {
			_, err := a.friends.Reject(ctx, a.requestID(ctx, arg))
			return "Rejected friend request from " + arg, err
		}))
	friendsCmd.AddCommand(newFriendMutationCmd(stdout, stderr, cfg, "cancel [username|request-id]", "Withdraw a sent request",
		func(ctx context.Context, a *app, arg string) (string, error) {
			_, err := a.friends.Cancel(ctx, a.requestID(ctx, arg))
			return "Cancelled friend request to " + arg, err
		}))
	friendsCmd.AddCommand(newFriendMutationCmd(stdout, stderr, cfg, "remove <username>", "Remove a friend",
		func(ctx context.Context, a *app, arg string) (string, error) {
			snap := a.friends.Load(ctx, loader.Options{})
			if backend.FindFriend(snap.Data.Friends, arg) == nil {
				return "", utils.ErrFriendNotFound(arg)
			}
			_, err := a.friends.Remove(ctx, arg)
			return "Removed " + arg + " from friends", err
		}))
	friendsCmd.AddCommand(newFriendShowCmd(stdout, stderr, cfg))

	return friendsCmd
}

// newFriendMutationCmd builds one friends subcommand that takes a single
// argument. Commands whose use marks the argument optional ("[...]") let the
// user pick a pending request interactively instead.
func newFriendMutationCmd(stdout, stderr io.Writer, cfg *Config, use, short string, run func(ctx context.Context, a *app, arg string) (string, error)) *cobra.Command {
	optional := strings.Contains(use, "[")
	argCheck := cobra.ExactArgs(1)
	if optional {
		argCheck = cobra.MaximumNArgs(1)
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  argCheck,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			var arg string
			if len(args) == 1 {
				arg = args[0]
			} else {
				picked, err := a.pickRequest(ctx, cmd.Name() != "cancel")
				if err != nil {
					return err
				}
				arg = picked
			}
			msg, err := run(ctx, a, arg)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(a.stdout, map[string]any{
					"message": msg,
					"friends": a.friends.Current().Data,
					"result":  ResultActionCompleted,
				})
			}
			_, _ = fmt.Fprintln(a.stdout, msg)
			a.actionCompleted()
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// pickRequest asks the user to choose a received (or sent) request and
// returns the other party's username.
func (a *app) pickRequest(ctx context.Context, received bool) (string, error) {
	snap := a.friends.Load(ctx, loader.Options{})
	reqs, label, title := snap.Data.Sent, func(r backend.FriendRequest) string { return r.ToUsername }, "Sent requests:"
	if received {
		reqs, label, title = snap.Data.Received, func(r backend.FriendRequest) string { return r.FromUsername }, "Received requests:"
	}
	sel := &prompt.Selector[backend.FriendRequest]{
		Items:    reqs,
		Label:    label,
		Prompt:   title,
		Reader:   a.prompt.Reader(),
		Writer:   a.stdout,
		NoPrompt: a.noPrompt(),
	}
	req, err := sel.Run()
	switch {
	case errors.Is(err, prompt.ErrNoPromptMode):
		return "", utils.WrapWithSuggestion(errors.New("no request given"), "Pass a username or request id, or drop -y to choose interactively")
	case errors.Is(err, prompt.ErrNoItems):
		return "", errors.New("no pending requests")
	case err != nil:
		return "", err
	}
	return label(req), nil
}

// requestID resolves a username to its pending request id. Anything else is
// taken as an id.
func (a *app) requestID(ctx context.Context, arg string) string {
	a.friends.Load(ctx, loader.Options{})
	if req, ok := a.friends.FindRequest(arg); ok {
		return req.ID
	}
	return arg
}

func renderFriends(w io.Writer, st styles, f friends.State) {
	solvedToday := make(map[string]bool, len(f.Streaks))
	for _, s := range f.Streaks {
		solvedToday[strings.ToLower(s.Username)] = s.SolvedToday
	}

	_, _ = fmt.Fprintln(w, st.title.Render(fmt.Sprintf("Friends (%d)", len(f.Friends))))
	if len(f.Friends) == 0 {
		_, _ = fmt.Fprintln(w, "  No friends yet. Add one with: codestreak friends add <username>")
	}
	for _, fr := range f.Friends {
		mark := " "
		if solvedToday[strings.ToLower(fr.Username)] {
			mark = "✓"
		}
		_, _ = fmt.Fprintf(w, "  %s %-20s streak %-4d level %d\n", mark, fr.Username, fr.CurrentStreak, fr.Level)
	}
	if len(f.Received) > 0 {
		_, _ = fmt.Fprintf(w, "Received requests (%d):\n", len(f.Received))
		for _, r := range f.Received {
			_, _ = fmt.Fprintf(w, "  %-20s %s\n", r.FromUsername, st.dim.Render(r.ID))
		}
	}
	if len(f.Sent) > 0 {
		_, _ = fmt.Fprintf(w, "Sent requests (%d):\n", len(f.Sent))
		for _, r := range f.Sent {
			_, _ = fmt.Fprintf(w, "  %-20s %s\n", r.ToUsername, st.dim.Render(r.ID))
		}
	}
}

// newFriendShowCmd creates the 'friends show' subcommand
func newFriendShowCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <username>",
		Short: "Show a user's public profile",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			refresh, _ := cmd.Flags().GetBool("refresh")
			load := func(ctx context.Context) (friends.ProfileSnapshot, error) {
				return a.friends.Profile(ctx, args[0], loader.Options{ForceRefresh: refresh})
			}
			return show(ctx, a, a.friends.ProfileLoader(args[0]), load, friends.SlotProfile, renderProfile)
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().Bool("refresh", false, "Bypass the cache")
	return cmd
}

func renderProfile(w io.Writer, st styles, p friends.ProfileState) {
	_, _ = fmt.Fprintln(w, st.title.Render(p.Profile.Username))
	if p.Profile.Bio != "" {
		_, _ = fmt.Fprintln(w, p.Profile.Bio)
	}
	if !p.Profile.JoinedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "Joined: %s\n", p.Profile.JoinedAt.Format("2006-01-02"))
	}
	_, _ = fmt.Fprintf(w, "Streak: %d days (best %d)\n", p.Profile.CurrentStreak, p.Profile.LongestStreak)
	_, _ = fmt.Fprintf(w, "Level %d, %d XP\n", p.Profile.Level, p.Profile.XP)
	if p.Achievements.Total > 0 {
		_, _ = fmt.Fprintf(w, "Achievements: %d/%d\n", p.Achievements.Unlocked, p.Achievements.Total)
	}
	if len(p.Solves) > 0 {
		_, _ = fmt.Fprintln(w, "Recent solves:")
		for _, s := range p.Solves {
			_, _ = fmt.Fprintf(w, "  %s (%s)\n", s.Title, s.Difficulty)
		}
	}
}

// newRevisionsCmd creates the 'revisions' subcommand
func newRevisionsCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	revisionsCmd := &cobra.Command{
		Use:   "revisions",
		Short: "Show the spaced-repetition queue",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			refresh, _ := cmd.Flags().GetBool("refresh")
			l := a.revisions.Loader(revisionMode(cmd))
			return show(ctx, a, l, loadWith(l, loader.Options{ForceRefresh: refresh}), revisions.SlotGrouped, renderRevisions)
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	revisionsCmd.PersistentFlags().Bool("ml", false, "Use the ML scheduler queue")
	revisionsCmd.Flags().Bool("refresh", false, "Bypass the cache")

	revisionsCmd.AddCommand(&cobra.Command{
		Use:   "complete <id> <quality>",
		Short: "Grade a revision (quality 0-5)",
		Long:  "Record a review of revision <id>. Quality ranges from 0 (forgot) to 5 (perfect recall).",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			quality, err := utils.ParseQuality(args[1])
			if err != nil {
				return err
			}
			snap, err := a.revisions.Complete(ctx, args[0], quality, revisionMode(cmd))
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(a.stdout, map[string]any{
					"completed": args[0],
					"quality":   quality,
					"revisions": toJSON(snap),
					"result":    ResultActionCompleted,
				})
			}
			_, _ = fmt.Fprintf(a.stdout, "Completed %s with quality %d\n", args[0], quality)
			if snap.Has(revisions.SlotGrouped) {
				_, _ = fmt.Fprintf(a.stdout, "%d revisions left in the queue\n", snap.Data.Grouped.Count())
			}
			a.actionCompleted()
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	return revisionsCmd
}

func revisionMode(cmd *cobra.Command) backend.RevisionMode {
	if ml, _ := cmd.Flags().GetBool("ml"); ml {
		return backend.ModeML
	}
	return backend.ModeNormal
}

func renderRevisions(w io.Writer, st styles, r revisions.State) {
	s := r.Stats
	_, _ = fmt.Fprintln(w, st.title.Render(fmt.Sprintf("Revisions (%s)", r.Mode)))
	_, _ = fmt.Fprintf(w, "%d due today, %d overdue, %d completed today, retention %.0f%%\n",
		s.DueToday, s.Overdue, s.CompletedToday, s.RetentionRate*100)

	buckets := []struct {
		name  string
		items []backend.Revision
	}{
		{"Overdue", r.Grouped.Overdue},
		{"Today", r.Grouped.Today},
		{"Upcoming", r.Grouped.Upcoming},
	}
	for _, b := range buckets {
		if len(b.items) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s:\n", b.name)
		for _, rev := range b.items {
			_, _ = fmt.Fprintf(w, "  %-10s %-30s due %s\n", rev.ID, rev.Title, rev.DueAt.Format(time.DateOnly))
		}
	}
	if r.Grouped.Count() == 0 {
		_, _ = fmt.Fprintln(w, "Nothing to review")
	}
}
