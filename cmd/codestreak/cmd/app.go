package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"codestreak/backend"
	"codestreak/backend/api"
	_ "codestreak/backend/badger"
	_ "codestreak/backend/memory"
	_ "codestreak/backend/sqlite"
	"codestreak/internal/auth"
	"codestreak/internal/avatar"
	"codestreak/internal/cache"
	"codestreak/internal/config"
	"codestreak/internal/credentials"
	"codestreak/internal/events"
	"codestreak/internal/friends"
	"codestreak/internal/home"
	"codestreak/internal/loader"
	"codestreak/internal/metrics"
	"codestreak/internal/notification"
	"codestreak/internal/ratelimit"
	"codestreak/internal/reminder"
	"codestreak/internal/revisions"
	"codestreak/internal/shutdown"
	"codestreak/internal/utils"
)

// app is the composition root: every long-lived dependency of a command run.
type app struct {
	ctx    context.Context
	cli    *Config
	conf   *config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	prompt *utils.Prompter
	log    *zerolog.Logger

	shutdown  *shutdown.Manager
	store     backend.Store
	cache     *cache.Manager
	metrics   *metrics.Metrics
	tokens    *credentials.Manager
	client    *api.Client
	bus       *events.Bus
	auth      *auth.Service
	home      *home.Home
	friends   *friends.Friends
	revisions *revisions.Revisions
	notifier  *notification.Manager
	reminders *reminder.Service
	bgLog     *utils.BackgroundLogger
}

// newApp loads the configuration and wires the store, cache, API client,
// auth service and feature loaders. Close releases everything in reverse order.
func newApp(parent context.Context, cli *Config, stdout, stderr io.Writer) (*app, error) {
	utils.SetOutput(stderr)

	conf, err := config.Load(cli.ConfigPath)
	if err != nil {
		return nil, err
	}
	conf.ApplyFlags(cli.NoPrompt, cli.OutputFormat)
	cli.OutputFormat = conf.OutputFormat
	utils.SetVerboseMode(cli.Verbose || conf.Logging.Level == "debug")
	log := utils.Log()

	stdin := cli.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}

	mgr := shutdown.NewManager(parent)
	a := &app{
		ctx:      mgr.Context(),
		cli:      cli,
		conf:     conf,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		prompt:   utils.NewPrompter(stdin, stderr),
		log:      log,
		shutdown: mgr,
	}

	a.store, err = backend.OpenStore(conf.Storage.Driver, conf.GetStoragePath())
	if err != nil {
		mgr.Shutdown()
		return nil, fmt.Errorf("open %s store: %w", conf.Storage.Driver, err)
	}
	mgr.RegisterCleanup("store", func(context.Context) error { return a.store.Close() })

	a.bgLog, err = utils.NewBackgroundLoggerWithEnabled(conf.IsBackgroundLoggingEnabled())
	if err != nil {
		log.Debug().Err(err).Msg("background log unavailable")
	}
	mgr.RegisterCleanup("background log", func(context.Context) error {
		a.bgLog.Close()
		return nil
	})

	a.metrics = metrics.New()
	a.cache = cache.NewManager(a.store,
		cache.WithTTLs(conf.Cache.ShortTTL, conf.Cache.LongTTL),
		cache.WithCompressThreshold(conf.Cache.CompressThreshold),
		cache.WithMetrics(a.metrics),
		cache.WithLogger(*log),
	)

	var tokenOpts []credentials.ManagerOption
	if cli.Keyring != nil {
		tokenOpts = append(tokenOpts, credentials.WithKeyring(cli.Keyring))
	}
	if cli.Getenv != nil {
		tokenOpts = append(tokenOpts, credentials.WithEnv(cli.Getenv))
	}
	a.tokens = credentials.NewManager(tokenOpts...)

	stats := ratelimit.NewStats()
	stats.OnRateLimit(a.metrics.RateLimited)
	a.client = api.New(api.Config{
		BaseURL: conf.API.BaseURL,
		Tokens:  a.tokens,
		HTTP: ratelimit.NewClient(ratelimit.Config{
			MaxRetries:        conf.API.MaxRetries,
			EnableJitter:      true,
			RequestsPerSecond: conf.API.RateLimit,
			Timeout:           conf.API.Timeout,
			Stats:             stats,
			Service:           "codestreak",
		}),
		Metrics: a.metrics,
		Logger:  log,
	})

	a.bus = events.NewBus(*log)
	mgr.RegisterCleanup("events", func(context.Context) error { return a.bus.Close() })

	a.auth = auth.New(auth.Config{
		API:    a.client,
		Tokens: a.tokens,
		Cache:  a.cache,
		Bus:    a.bus,
		Log:    log,
	})

	shared := loader.Shared{
		Metrics:        a.metrics,
		Log:            log,
		RefreshLog:     a.bgLog.Logger(),
		OnUnauthorized: a.auth.HandleUnauthorized,
	}
	a.home = home.New(a.client, a.cache, shared)
	a.friends = friends.New(a.client, a.cache, shared)
	a.revisions = revisions.New(a.client, a.cache, shared)
	a.auth.OnLogout(a.home.Reset)
	a.auth.OnLogout(a.friends.Reset)
	a.auth.OnLogout(a.revisions.Reset)
	mgr.RegisterCleanup("loaders", func(context.Context) error {
		a.home.Close()
		a.friends.Close()
		a.revisions.Close()
		return nil
	})

	if conf.Avatar.Enabled {
		task := avatar.New(avatar.Config{
			URL: conf.Avatar.URL,
			Dir: avatarDir(cli),
			HTTP: ratelimit.NewClient(ratelimit.Config{
				MaxRetries: 1,
				Timeout:    conf.API.Timeout,
				Service:    "avatar",
			}),
			Cache: a.cache,
			Log:   log,
		})
		if err := task.Start(a.ctx, a.bus); err != nil {
			log.Warn().Err(err).Msg("avatar download disabled")
		}
	}

	notifyOpts := []notification.Option{notification.WithLogger(*a.bgLog.Logger())}
	if cli.Notify != nil {
		notifyOpts = append(notifyOpts, notification.WithCommandExecutor(cli.Notify))
	}
	a.notifier = notification.NewManager(conf.Notifications, notifyOpts...)
	mgr.RegisterCleanup("notifications", func(context.Context) error { return a.notifier.Close() })
	a.reminders = reminder.NewService(conf.Notifications, a.cache, a.notifier)

	a.auth.Restore(a.ctx)
	return a, nil
}

// avatarDir returns where profile pictures are written.
func avatarDir(cli *Config) string {
	if cli.AvatarDir != "" {
		return cli.AvatarDir
	}
	return filepath.Join(config.GetDataDir(), "avatar")
}

// configPath returns the config file in use.
func (a *app) configPath() string {
	if a.cli.ConfigPath != "" {
		return a.cli.ConfigPath
	}
	return config.DefaultConfigPath()
}

// Close cancels in-flight work and runs every cleanup.
func (a *app) Close() error {
	return a.shutdown.Close()
}

func (a *app) noPrompt() bool {
	return a.conf.NoPrompt
}

func (a *app) jsonOutput() bool {
	return a.conf.OutputFormat == "json"
}

// requireLogin fails with a suggestion when no session token is stored.
func (a *app) requireLogin(ctx context.Context) error {
	if !a.auth.IsAuthenticated(ctx) {
		return utils.ErrNotLoggedIn()
	}
	return nil
}
