package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a config file into a temp dir and isolates XDG paths.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmpDir, "cache"))
	t.Setenv("HOME", tmpDir)

	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestConfigAutoCreate verifies first run creates config file at XDG path with defaults
func TestConfigAutoCreate(t *testing.T) {
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "config")
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))
	t.Setenv("HOME", tmpDir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	configPath := filepath.Join(configDir, "codestreak", "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Errorf("config file not created at %s", configPath)
	}

	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("expected storage.driver = 'sqlite', got %q", cfg.Storage.Driver)
	}
	if cfg.OutputFormat != "text" {
		t.Errorf("expected OutputFormat = 'text', got %q", cfg.OutputFormat)
	}
	if cfg.Cache.ShortTTL != 15*time.Minute || cfg.Cache.LongTTL != 60*time.Minute {
		t.Errorf("unexpected TTL tiers: short=%s long=%s", cfg.Cache.ShortTTL, cfg.Cache.LongTTL)
	}
}

// TestConfigPartialFileKeepsDefaults verifies unset keys fall back to defaults
func TestConfigPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: "http://localhost:8080"
cache:
  short_ttl: 5m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.BaseURL != "http://localhost:8080" {
		t.Errorf("base_url = %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 15*time.Second {
		t.Errorf("timeout should keep default, got %s", cfg.API.Timeout)
	}
	if cfg.Cache.ShortTTL != 5*time.Minute {
		t.Errorf("short_ttl = %s, want 5m", cfg.Cache.ShortTTL)
	}
	if cfg.Cache.LongTTL != time.Hour {
		t.Errorf("long_ttl should keep default, got %s", cfg.Cache.LongTTL)
	}
	if !cfg.Logging.BackgroundEnabled {
		t.Error("logging.background_enabled should default to true")
	}
}

// TestConfigEnvOverrides verifies CODESTREAK_ variables beat the file
func TestConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: "http://file.example"
output_format: text
`)
	t.Setenv("CODESTREAK_API__BASE_URL", "http://env.example")
	t.Setenv("CODESTREAK_API__MAX_RETRIES", "5")
	t.Setenv("CODESTREAK_CACHE__LONG_TTL", "2h")
	t.Setenv("CODESTREAK_OUTPUT_FORMAT", "json")
	t.Setenv("CODESTREAK_NO_PROMPT", "true")
	t.Setenv("CODESTREAK_TOKEN", "not-a-config-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.BaseURL != "http://env.example" {
		t.Errorf("base_url = %q, want env value", cfg.API.BaseURL)
	}
	if cfg.API.MaxRetries != 5 {
		t.Errorf("max_retries = %d, want 5", cfg.API.MaxRetries)
	}
	if cfg.Cache.LongTTL != 2*time.Hour {
		t.Errorf("long_ttl = %s, want 2h", cfg.Cache.LongTTL)
	}
	if cfg.OutputFormat != "json" {
		t.Errorf("output_format = %q, want json", cfg.OutputFormat)
	}
	if !cfg.NoPrompt {
		t.Error("no_prompt should be true from env")
	}
}

// TestEnvTransformFunc verifies the env name to koanf path mapping
func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"CODESTREAK_API__BASE_URL":              "api.base_url",
		"CODESTREAK_LOGGING__BACKGROUND_ENABLED": "logging.background_enabled",
		"CODESTREAK_OUTPUT_FORMAT":              "output_format",
		"CODESTREAK_TOKEN":                      "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestConfigValidation verifies invalid values are rejected
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{"bad output format", "output_format: xml\n", "OutputFormat"},
		{"bad driver", "storage:\n  driver: redis\n", "Driver"},
		{"bad base url", "api:\n  base_url: not a url\n", "BaseURL"},
		{"negative retries", "api:\n  max_retries: -1\n", "MaxRetries"},
		{"bad log level", "logging:\n  level: loud\n", "Level"},
		{"long shorter than short", "cache:\n  short_ttl: 30m\n  long_ttl: 10m\n", "long_ttl"},
		{"zero short ttl", "cache:\n  short_ttl: 0s\n", "short_ttl"},
		{"avatar without url", "avatar:\n  enabled: true\n  url: \"\"\n", "avatar.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("error %q should mention %q", err.Error(), tt.errPart)
			}
		})
	}
}

// TestConfigInvalidYAML verifies YAML syntax errors are reported
func TestConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "api: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

// TestApplyFlags verifies CLI flags override config
func TestApplyFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyFlags(false, "")
	if cfg.NoPrompt || cfg.OutputFormat != "text" {
		t.Errorf("empty flags should not change config: %+v", cfg)
	}

	cfg.ApplyFlags(true, "json")
	if !cfg.NoPrompt {
		t.Error("NoPrompt should be true")
	}
	if cfg.OutputFormat != "json" {
		t.Errorf("OutputFormat = %q, want json", cfg.OutputFormat)
	}
}

// TestGetStoragePath verifies per-driver default locations
func TestGetStoragePath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmpDir)

	tests := []struct {
		driver string
		path   string
		want   string
	}{
		{"sqlite", "", filepath.Join(tmpDir, "codestreak", "cache.db")},
		{"badger", "", filepath.Join(tmpDir, "codestreak", "badger")},
		{"memory", "", ""},
		{"sqlite", "/custom/db.sqlite", "/custom/db.sqlite"},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Storage.Driver = tt.driver
		cfg.Storage.Path = tt.path
		if got := cfg.GetStoragePath(); got != tt.want {
			t.Errorf("GetStoragePath(%s, %q) = %q, want %q", tt.driver, tt.path, got, tt.want)
		}
	}
}

// TestConfigYAML verifies 'config show' output round-trips key names
func TestConfigYAML(t *testing.T) {
	out, err := DefaultConfig().YAML()
	if err != nil {
		t.Fatalf("YAML() error = %v", err)
	}
	for _, want := range []string{"base_url:", "short_ttl: 15m0s", "compress_threshold: 4096", "output_format: text"} {
		if !strings.Contains(out, want) {
			t.Errorf("YAML() missing %q:\n%s", want, out)
		}
	}
}

// TestXDGDirs verifies XDG variables are honored
func TestXDGDirs(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "c"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "d"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmpDir, "k"))

	if got := GetConfigDir(); got != filepath.Join(tmpDir, "c", "codestreak") {
		t.Errorf("GetConfigDir() = %q", got)
	}
	if got := GetDataDir(); got != filepath.Join(tmpDir, "d", "codestreak") {
		t.Errorf("GetDataDir() = %q", got)
	}
	if got := GetCacheDir(); got != filepath.Join(tmpDir, "k", "codestreak") {
		t.Errorf("GetCacheDir() = %q", got)
	}
}

// TestExpandPath verifies ~ and $VAR expansion
func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CS_TEST_DIR", "/opt/cs")

	if got := ExpandPath("~/cache.db"); got != filepath.Join(home, "cache.db") {
		t.Errorf("ExpandPath(~) = %q", got)
	}
	if got := ExpandPath("$CS_TEST_DIR/cache.db"); got != "/opt/cs/cache.db" {
		t.Errorf("ExpandPath($VAR) = %q", got)
	}
	if got := ExpandPath(""); got != "" {
		t.Errorf("ExpandPath(\"\") = %q", got)
	}
}
