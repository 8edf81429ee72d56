package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"codestreak/backend"
	"codestreak/internal/config"
	"codestreak/internal/home"
	"codestreak/internal/loader"
	"codestreak/internal/notification"
	"codestreak/internal/reminder"
	"codestreak/internal/revisions"
	"codestreak/internal/tui"
	"codestreak/internal/utils"
	"codestreak/internal/watcher"
)

// DefaultWatchInterval is the refresh period of 'codestreak watch'.
const DefaultWatchInterval = 5 * time.Minute

// newWatchCmd creates the 'watch' subcommand
func newWatchCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh the cache periodically until interrupted",
		Long:  "Re-fetch home, friends and the revision queue every --interval, keeping the cache warm for other commands. Sends the reminders enabled under notifications in the config; edits to that section apply without a restart. Stops on SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")
			count, _ := cmd.Flags().GetInt("count")
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}
			if err := a.requireLogin(ctx); err != nil {
				return err
			}

			stop := a.shutdown.Listen()
			defer stop()

			reload := make(chan struct{}, 1)
			w, err := watcher.New(watcher.Config{
				Files: []string{a.configPath()},
				OnChange: func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				},
				Log: *a.log,
			})
			if err == nil {
				err = w.Start()
				defer w.Stop()
			}
			if err != nil {
				a.log.Debug().Err(err).Msg("config changes will need a restart")
			}
			return a.watch(ctx, interval, count, revisionMode(cmd), reload)
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().Duration("interval", DefaultWatchInterval, "Time between refreshes")
	cmd.Flags().Int("count", 0, "Stop after this many refreshes (0 runs until interrupted)")
	cmd.Flags().Bool("ml", false, "Refresh the ML scheduler queue instead of the normal one")
	return cmd
}

// watch refreshes every feature each interval until ctx is done. A value on
// reload re-reads the notification settings and refreshes at once.
func (a *app) watch(ctx context.Context, interval time.Duration, count int, mode backend.RevisionMode, reload <-chan struct{}) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 1; ; i++ {
		if err := a.refreshAll(ctx, mode); err != nil {
			return err
		}
		if count > 0 && i >= count {
			return nil
		}
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(a.stdout, "Stopped")
			return nil
		case <-reload:
			a.reloadNotifications()
			ticker.Reset(interval)
		case <-ticker.C:
		}
	}
}

// reloadNotifications applies the notifications section of the config file.
// An invalid file keeps the current settings.
func (a *app) reloadNotifications() {
	conf, err := config.Load(a.cli.ConfigPath)
	if err != nil {
		a.log.Warn().Err(err).Msg("config not reloaded")
		return
	}
	if conf.Notifications == a.conf.Notifications {
		return
	}
	a.conf.Notifications = conf.Notifications
	a.notifier.Reconfigure(conf.Notifications)
	a.reminders = reminder.NewService(conf.Notifications, a.cache, a.notifier)
	_, _ = fmt.Fprintln(a.stdout, "Notification settings reloaded")
}

// refreshAll reloads home, friends and revisions concurrently and prints a
// one-line summary. Each loader serves its cache and refreshes it, so a
// failed poll never discards cached data.
func (a *app) refreshAll(ctx context.Context, mode backend.RevisionMode) error {
	revs := a.revisions.Loader(mode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { poll(gctx, a.home.Loader); return nil })
	g.Go(func() error { poll(gctx, a.friends.Loader); return nil })
	g.Go(func() error { poll(gctx, revs); return nil })
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if !a.auth.IsAuthenticated(ctx) {
		return utils.ErrSessionExpired()
	}

	h, f, r := a.home.Current(), a.friends.Current(), revs.Current()
	line := fmt.Sprintf("[%s] streak %d, %d revisions due, %d pending requests",
		time.Now().Format(time.TimeOnly),
		h.Data.UserStats.CurrentStreak,
		r.Data.Grouped.Count(),
		len(f.Data.Received))
	for _, snap := range []struct {
		name string
		err  string
	}{{"home", h.Err}, {"friends", f.Err}, {"revisions", r.Err}} {
		if snap.err != "" {
			line += fmt.Sprintf(" (%s: %s)", snap.name, snap.err)
		}
	}
	_, _ = fmt.Fprintln(a.stdout, line)

	if h.Has(home.SlotUserStats) && r.Has(revisions.SlotGrouped) {
		sent, err := a.reminders.Check(ctx, h.Data.UserStats, r.Data.Grouped)
		if err != nil {
			a.log.Warn().Err(err).Msg("reminder not delivered")
		}
		for _, n := range sent {
			_, _ = fmt.Fprintf(a.stdout, "  reminder: %s\n", n.Message)
		}
	}
	return nil
}

// poll runs one cache-then-refresh cycle and waits for its background refresh.
func poll[S any](ctx context.Context, l *loader.Loader[S]) {
	l.Load(ctx, loader.Options{})
	l.Wait()
}

// newNotifyCmd creates the 'notify' subcommand
func newNotifyCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Manage streak reminders",
		Long:  "Reminders are sent by 'codestreak watch' when notifications.enabled is true in the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	notifyCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test notification through every configured channel",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if !a.conf.Notifications.Enabled {
				_, _ = fmt.Fprintln(a.stdout, "Notifications are disabled. Set notifications.enabled: true in "+a.configPath())
				a.infoOnly()
				return nil
			}
			err := a.notifier.Send(notification.Notification{
				Kind:    notification.KindTest,
				Title:   "codestreak",
				Message: "Notifications are working",
			})
			if err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			_, _ = fmt.Fprintf(a.stdout, "Test notification sent (%d channels)\n", a.notifier.ChannelCount())
			a.actionCompleted()
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	return notifyCmd
}

// newDashboardCmd creates the 'dashboard' subcommand
func newDashboardCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Open the interactive dashboard",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			mode := revisionMode(cmd)
			model := tui.New(ctx, tui.Sources{
				Home:      a.home,
				Revisions: a.revisions.Loader(mode),
				Friends:   a.friends,
				Grader:    a.revisions,
				Mode:      mode,
			})
			defer model.Close()

			stop := a.shutdown.Listen()
			defer stop()

			opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(a.stdout), tea.WithAltScreen()}
			if a.cli.Stdin != nil {
				opts = append(opts, tea.WithInput(a.stdin))
			}
			if _, err := tea.NewProgram(model, opts...).Run(); err != nil {
				if errors.Is(err, tea.ErrProgramKilled) && a.shutdown.IsShutdown() {
					return nil
				}
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().Bool("ml", false, "Show the ML scheduler queue")
	return cmd
}
