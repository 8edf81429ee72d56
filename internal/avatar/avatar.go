// Package avatar downloads the profile picture after login.
package avatar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"codestreak/internal/cache"
	"codestreak/internal/events"
	"codestreak/internal/ratelimit"
	"codestreak/internal/utils"
)

// maxImageSize caps the downloaded image.
const maxImageSize = 5 << 20

// Config holds configuration for the avatar task.
type Config struct {
	URL   string
	Dir   string
	HTTP  *ratelimit.Client
	Cache *cache.Manager
	Log   *zerolog.Logger
}

// Task fetches the avatar image into Dir and records its path.
type Task struct {
	url   string
	dir   string
	http  *ratelimit.Client
	cache *cache.Manager
	log   zerolog.Logger
}

// New creates an avatar task.
func New(cfg Config) *Task {
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = ratelimit.NewClient(ratelimit.Config{Service: "avatar", MaxRetries: 1})
	}
	log := utils.Log()
	if cfg.Log != nil {
		log = cfg.Log
	}
	return &Task{
		url:   cfg.URL,
		dir:   cfg.Dir,
		http:  httpClient,
		cache: cfg.Cache,
		log:   log.With().Str("component", "avatar").Logger(),
	}
}

// Start runs the task for every LoginCompleted event on bus until ctx is done.
func (t *Task) Start(ctx context.Context, bus *events.Bus) error {
	return events.Subscribe(ctx, bus, events.TopicLoginCompleted, t.Handle)
}

// Handle downloads the avatar for ev.Username and stores its path.
func (t *Task) Handle(ctx context.Context, ev events.LoginCompleted) error {
	path, err := t.Download(ctx, ev.Username)
	if err != nil {
		return err
	}

	previous, _ := t.cache.String(ctx, cache.FlagAvatarPath)
	if err := t.cache.SetString(ctx, cache.FlagAvatarPath, path); err != nil {
		return err
	}
	if previous != "" && previous != path {
		if err := os.Remove(previous); err != nil && !os.IsNotExist(err) {
			t.log.Debug().Err(err).Str("path", previous).Msg("previous avatar not removed")
		}
	}
	t.log.Debug().Str("user", ev.Username).Str("path", path).Msg("avatar stored")
	return nil
}

// Download fetches the image and writes it to Dir, returning the file path.
func (t *Task) Download(ctx context.Context, username string) (string, error) {
	if t.url == "" {
		return "", fmt.Errorf("avatar url not configured")
	}

	resp, err := t.http.Do(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return "", fmt.Errorf("download avatar: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download avatar: unexpected status %s", resp.Status)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("download avatar: not an image (%s)", contentType)
	}

	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return "", fmt.Errorf("create avatar directory: %w", err)
	}

	tmp, err := os.CreateTemp(t.dir, ".avatar-*")
	if err != nil {
		return "", fmt.Errorf("create avatar file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxImageSize+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("write avatar: %w", err)
	}
	if n > maxImageSize {
		return "", fmt.Errorf("download avatar: image larger than %d bytes", maxImageSize)
	}

	path := filepath.Join(t.dir, fileName(username, contentType))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store avatar: %w", err)
	}
	return path, nil
}

// fileName derives a safe file name from the username and content type.
func fileName(username, contentType string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, username)
	if safe == "" {
		safe = "user"
	}
	return "avatar-" + safe + extension(contentType)
}

func extension(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(strings.ToLower(mediaType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ".img"
}
