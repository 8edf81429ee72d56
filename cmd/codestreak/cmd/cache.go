package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"codestreak/backend"
	"codestreak/internal/cache"
	"codestreak/internal/config"
	"codestreak/internal/migrate"
	"codestreak/internal/utils"
)

// newCacheCmd creates the 'cache' subcommand
func newCacheCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List cached entries with their age and freshness",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return doCacheStatus(ctx, a)
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry (the session token is kept)",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			username, _ := a.cache.String(ctx, cache.FlagUsername)
			if err := a.cache.ClearAll(ctx); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			if username != "" && a.auth.IsAuthenticated(ctx) {
				if err := a.cache.SetString(ctx, cache.FlagUsername, username); err != nil {
					a.log.Debug().Err(err).Msg("username flag not restored")
				}
			}
			_, _ = fmt.Fprintln(a.stdout, "Cache cleared")
			a.actionCompleted()
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "invalidate <group>",
		Short: "Expire one group of entries (home, friends, revisions)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			group, ok := cache.ParseGroup(args[0])
			if !ok {
				return utils.ErrUnknownCacheGroup(args[0], groupNames())
			}
			if err := a.cache.InvalidateGroup(ctx, group); err != nil {
				return fmt.Errorf("invalidate %s: %w", group, err)
			}
			_, _ = fmt.Fprintf(a.stdout, "Invalidated %s\n", group)
			a.actionCompleted()
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy the cache into another store driver",
		Long:  "Copy every cached entry into the store named by --to. Point storage.driver (and storage.path) at it afterwards to switch.",
		Args:  cobra.NoArgs,
		RunE: withApp(stdout, stderr, cfg, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			path, _ := cmd.Flags().GetString("path")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			return doCacheMigrate(ctx, a, to, path, dryRun)
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	migrateCmd.Flags().String("to", "", "Destination driver ("+strings.Join(backend.StoreDrivers(), ", ")+")")
	migrateCmd.Flags().String("path", "", "Destination path (default: the driver's default location)")
	migrateCmd.Flags().Bool("dry-run", false, "Count the entries without writing")
	_ = migrateCmd.MarkFlagRequired("to")
	cacheCmd.AddCommand(migrateCmd)

	return cacheCmd
}

// doCacheMigrate copies the open store into a freshly opened destination store.
func doCacheMigrate(ctx context.Context, a *app, to, path string, dryRun bool) error {
	dest := *a.conf
	dest.Storage = config.StorageConfig{Driver: to, Path: config.ExpandPath(path)}
	if err := dest.Validate(); err != nil {
		return err
	}
	if to == "memory" {
		return utils.WrapWithSuggestion(errors.New("cannot migrate into the memory store"), "Choose sqlite or badger")
	}
	destPath := dest.GetStoragePath()
	if to == a.conf.Storage.Driver && destPath == a.conf.GetStoragePath() {
		return fmt.Errorf("source and destination are the same %s store", to)
	}

	dst, err := backend.OpenStore(to, destPath)
	if err != nil {
		return fmt.Errorf("open %s store: %w", to, err)
	}
	res, err := migrate.Copy(ctx, a.store, dst, migrate.Options{DryRun: dryRun, Replace: true})
	if closeErr := dst.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %s store: %w", to, closeErr)
	}
	if err != nil {
		return err
	}

	if a.jsonOutput() {
		return writeJSON(a.stdout, map[string]any{
			"driver":  to,
			"path":    destPath,
			"copied":  res.Copied,
			"skipped": res.Skipped,
			"bytes":   res.Bytes,
			"dry_run": dryRun,
			"result":  ResultActionCompleted,
		})
	}
	verb := "Copied"
	if dryRun {
		verb = "Would copy"
	}
	_, _ = fmt.Fprintf(a.stdout, "%s %d entries (%d bytes) to %s at %s\n", verb, res.Copied, res.Bytes, to, destPath)
	if !dryRun {
		_, _ = fmt.Fprintf(a.stdout, "Set storage.driver: %s in %s to use it\n", to, a.configPath())
	}
	a.actionCompleted()
	return nil
}

func groupNames() []string {
	var names []string
	for _, g := range cache.Groups() {
		names = append(names, string(g))
	}
	return names
}

type entryJSON struct {
	Key        string `json:"key"`
	Group      string `json:"group"`
	AgeSeconds int64  `json:"age_seconds"`
	TTLSeconds int64  `json:"ttl_seconds"`
	Fresh      bool   `json:"fresh"`
	Size       int    `json:"size"`
	Compressed bool   `json:"compressed"`
}

type sampleJSON struct {
	Name   string  `json:"name"`
	Labels string  `json:"labels,omitempty"`
	Value  float64 `json:"value"`
}

// doCacheStatus prints every cached entry and the process metrics.
func doCacheStatus(ctx context.Context, a *app) error {
	entries, err := a.cache.Entries(ctx)
	if err != nil {
		return fmt.Errorf("list cache entries: %w", err)
	}
	samples, err := a.metrics.Snapshot()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	if a.jsonOutput() {
		out := struct {
			Driver        string       `json:"driver"`
			Path          string       `json:"path,omitempty"`
			BackgroundLog string       `json:"background_log,omitempty"`
			Entries       []entryJSON  `json:"entries"`
			Metrics       []sampleJSON `json:"metrics"`
		}{
			Driver:  a.conf.Storage.Driver,
			Path:    a.conf.GetStoragePath(),
			Entries: []entryJSON{},
			Metrics: []sampleJSON{},
		}
		if a.bgLog.IsEnabled() {
			out.BackgroundLog = a.bgLog.Path()
		}
		for _, e := range entries {
			out.Entries = append(out.Entries, entryJSON{
				Key:        e.Key,
				Group:      string(e.Group),
				AgeSeconds: int64(e.Age / time.Second),
				TTLSeconds: int64(e.TTL / time.Second),
				Fresh:      e.Fresh,
				Size:       e.Size,
				Compressed: e.Compressed,
			})
		}
		for _, s := range samples {
			out.Metrics = append(out.Metrics, sampleJSON{Name: s.Name, Labels: s.Labels, Value: s.Value})
		}
		return writeJSON(a.stdout, out)
	}

	_, _ = fmt.Fprintf(a.stdout, "Store: %s %s\n", a.conf.Storage.Driver, a.conf.GetStoragePath())
	if a.bgLog.IsEnabled() {
		_, _ = fmt.Fprintf(a.stdout, "Background log: %s\n", a.bgLog.Path())
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(a.stdout, "Cache is empty")
	} else {
		_, _ = fmt.Fprintf(a.stdout, "\n%-36s %-10s %-10s %-10s %-6s %s\n", "KEY", "GROUP", "AGE", "TTL", "FRESH", "SIZE")
		for _, e := range entries {
			fresh := "no"
			if e.Fresh {
				fresh = "yes"
			}
			size := fmt.Sprintf("%dB", e.Size)
			if e.Compressed {
				size += " (zstd)"
			}
			_, _ = fmt.Fprintf(a.stdout, "%-36s %-10s %-10s %-10s %-6s %s\n",
				e.Key, e.Group, e.Age.Round(time.Second), e.TTL, fresh, size)
		}
	}

	if len(samples) > 0 {
		_, _ = fmt.Fprintln(a.stdout, "\nMetrics:")
		for _, s := range samples {
			name := s.Name
			if s.Labels != "" {
				name += "{" + s.Labels + "}"
			}
			_, _ = fmt.Fprintf(a.stdout, "  %-60s %g\n", name, s.Value)
		}
	}
	a.infoOnly()
	return nil
}

// newConfigCmd creates the 'config' subcommand
func newConfigCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the configuration after defaults, file and environment are merged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, cfg)
			conf, err := config.Load(cfg.ConfigPath)
			if err != nil {
				return err
			}
			conf.ApplyFlags(cfg.NoPrompt, cfg.OutputFormat)
			if conf.OutputFormat == "json" {
				return writeJSON(stdout, conf)
			}
			out, err := conf.YAML()
			if err != nil {
				return err
			}
			path := cfg.ConfigPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			_, _ = fmt.Fprintf(stdout, "# %s\n%s", path, strings.TrimLeft(out, "\n"))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	return configCmd
}
