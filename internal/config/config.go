// Package config handles application configuration
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CODESTREAK_"

// APIConfig holds remote server settings
type APIConfig struct {
	BaseURL    string        `koanf:"base_url" yaml:"base_url" validate:"required,url"`
	Timeout    time.Duration `koanf:"timeout" yaml:"timeout" validate:"gte=0"`
	RateLimit  float64       `koanf:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	MaxRetries int           `koanf:"max_retries" yaml:"max_retries" validate:"gte=0,lte=10"`
}

// StorageConfig holds local key-value store settings
type StorageConfig struct {
	Driver string `koanf:"driver" yaml:"driver" validate:"omitempty,oneof=sqlite badger memory"`
	Path   string `koanf:"path" yaml:"path"`
}

// CacheConfig holds cache freshness settings
type CacheConfig struct {
	ShortTTL          time.Duration `koanf:"short_ttl" yaml:"short_ttl"`
	LongTTL           time.Duration `koanf:"long_ttl" yaml:"long_ttl"`
	CompressThreshold int           `koanf:"compress_threshold" yaml:"compress_threshold" validate:"gte=0"`
}

// AvatarConfig holds the post-login profile picture settings
type AvatarConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	URL     string `koanf:"url" yaml:"url" validate:"omitempty,url"`
}

// NotificationsConfig holds the reminder settings used by 'codestreak watch'
type NotificationsConfig struct {
	Enabled      bool `koanf:"enabled" yaml:"enabled"`
	Desktop      bool `koanf:"desktop" yaml:"desktop"`
	StreakAtRisk bool `koanf:"streak_at_risk" yaml:"streak_at_risk"`
	RevisionsDue bool `koanf:"revisions_due" yaml:"revisions_due"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level             string `koanf:"level" yaml:"level" validate:"oneof=debug info warn error"`
	BackgroundEnabled bool   `koanf:"background_enabled" yaml:"background_enabled"`
}

// Config represents the application configuration
type Config struct {
	API           APIConfig           `koanf:"api" yaml:"api"`
	Storage       StorageConfig       `koanf:"storage" yaml:"storage"`
	Cache         CacheConfig         `koanf:"cache" yaml:"cache"`
	Avatar        AvatarConfig        `koanf:"avatar" yaml:"avatar"`
	Notifications NotificationsConfig `koanf:"notifications" yaml:"notifications"`
	Logging       LoggingConfig       `koanf:"logging" yaml:"logging"`
	OutputFormat  string              `koanf:"output_format" yaml:"output_format" validate:"oneof=text json"`
	NoPrompt      bool                `koanf:"no_prompt" yaml:"no_prompt"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    "https://api.codestreak.app",
			Timeout:    15 * time.Second,
			RateLimit:  10,
			MaxRetries: 3,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Cache: CacheConfig{
			ShortTTL:          15 * time.Minute,
			LongTTL:           60 * time.Minute,
			CompressThreshold: 4096,
		},
		Avatar: AvatarConfig{
			Enabled: true,
			URL:     "https://cataas.com/cat?width=256",
		},
		Notifications: NotificationsConfig{
			Desktop:      true,
			StreakAtRisk: true,
			RevisionsDue: true,
		},
		Logging: LoggingConfig{
			Level:             "info",
			BackgroundEnabled: true,
		},
		OutputFormat: "text",
	}
}

// DefaultConfigPath returns the XDG config file location.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it is created from the embedded sample.
// Layers, lowest precedence first: defaults, config file, CODESTREAK_ environment.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeSample(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.Storage.Path = ExpandPath(cfg.Storage.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransformFunc maps environment variable names to koanf paths:
//
//	CODESTREAK_API__BASE_URL -> api.base_url
//	CODESTREAK_OUTPUT_FORMAT -> output_format
//
// CODESTREAK_TOKEN is read by the credentials package, not here.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "token" {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

// writeSample writes the embedded sample config to path
func writeSample(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: %v (failed %q)", fe.Namespace(), fe.Value(), fe.Tag())
		}
		return err
	}

	if c.Cache.ShortTTL <= 0 {
		return fmt.Errorf("cache.short_ttl must be positive, got %s", c.Cache.ShortTTL)
	}
	if c.Cache.LongTTL < c.Cache.ShortTTL {
		return fmt.Errorf("cache.long_ttl (%s) must not be shorter than cache.short_ttl (%s)",
			c.Cache.LongTTL, c.Cache.ShortTTL)
	}
	if c.Avatar.Enabled && c.Avatar.URL == "" {
		return errors.New("avatar.url is required when avatar.enabled is true")
	}

	return nil
}

// ApplyFlags applies CLI flag overrides to the configuration
func (c *Config) ApplyFlags(noPrompt bool, outputFormat string) {
	if noPrompt {
		c.NoPrompt = true
	}
	if outputFormat != "" {
		c.OutputFormat = outputFormat
	}
}

// GetStoragePath returns the store location, defaulting per driver under the data dir.
func (c *Config) GetStoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	switch c.Storage.Driver {
	case "badger":
		return filepath.Join(GetDataDir(), "badger")
	case "memory":
		return ""
	default:
		return filepath.Join(GetDataDir(), "cache.db")
	}
}

// IsBackgroundLoggingEnabled returns true if background logging is enabled.
func (c *Config) IsBackgroundLoggingEnabled() bool {
	return c.Logging.BackgroundEnabled
}

// YAML renders the effective configuration for 'codestreak config show'.
func (c *Config) YAML() (string, error) {
	out, err := yamlv3.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// getXDGDir returns a directory path following XDG spec.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "codestreak")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "codestreak")
	}
	return filepath.Join(home, fallbackPath, "codestreak")
}

// GetConfigDir returns the configuration directory following XDG spec
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following XDG spec
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// GetCacheDir returns the cache directory following XDG spec
func GetCacheDir() string {
	return getXDGDir("XDG_CACHE_HOME", ".cache")
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
