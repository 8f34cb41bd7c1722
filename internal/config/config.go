package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/m96-chan/slackentry/internal/consts"
)

//go:embed config.toml
var defaultConfig []byte

// Config holds the application configuration.
type Config struct {
	Server        Server        `toml:"server"`
	Store         Store         `toml:"store"`
	Entry         Entry         `toml:"entry"`
	Notifications Notifications `toml:"notifications"`
}

// Server holds per-server settings and the server-config overrides reported
// to the entry procedures.
type Server struct {
	URL                       string `toml:"url"`
	PrimaryTeam               string `toml:"primary_team"`
	TeammateNameDisplay       string `toml:"teammate_name_display"`
	LockTeammateNameDisplay   bool   `toml:"lock_teammate_name_display"`
	ExtendSessionWithActivity bool   `toml:"extend_session_with_activity"`
	SessionLengthHours        int    `toml:"session_length_hours"`
	Locale                    string `toml:"locale"`
}

// Store selects and configures the local store backend.
type Store struct {
	Backend     string `toml:"backend"`
	RedisURL    string `toml:"redis_url"`
	DatabaseURL string `toml:"database_url"`
	KeyPrefix   string `toml:"key_prefix"`
}

// Entry tunes the entry procedures.
type Entry struct {
	PostsPerChannel        int `toml:"posts_per_channel"`
	MaxUnreadChannels      int `toml:"max_unread_channels"`
	DeferredTimeoutSeconds int `toml:"deferred_timeout_seconds"`
}

// DeferredTimeout returns the budget for each detached enrichment task.
func (e Entry) DeferredTimeout() time.Duration {
	return time.Duration(e.DeferredTimeoutSeconds) * time.Second
}

// Notifications controls desktop notification behavior.
type Notifications struct {
	Enabled bool `toml:"enabled"`
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// DefaultPath returns the default config file path.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, consts.Name, "config.toml")
}

// Default returns the embedded defaults without touching the filesystem.
func Default() (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(defaultConfig, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Load reads the config from the given path. If the file does not exist,
// it writes the default config and loads that. Config loading is two-phase:
// embedded defaults are applied first, then the user file overlays on top.
func Load(path string) (*Config, error) {
	// Phase 1: unmarshal embedded defaults.
	var cfg Config
	if err := toml.Unmarshal(defaultConfig, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}

	// Write default config if file does not exist.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, defaultConfig, 0o600); err != nil {
			return nil, err
		}
	}

	// Phase 2: overlay user file on top of defaults.
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// applyDefaults resolves computed defaults that can't be expressed in TOML.
func applyDefaults(cfg *Config) {
	if env := os.Getenv("SLACKENTRY_SERVER"); env != "" && cfg.Server.URL == "" {
		cfg.Server.URL = env
	}
	if cfg.Server.Locale == "" {
		cfg.Server.Locale = "en"
	}
	if cfg.Store.KeyPrefix == "" {
		cfg.Store.KeyPrefix = consts.Name
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}
}

// validate checks that config values are within acceptable ranges.
func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if cfg.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis backend")
		}
	case BackendPostgres:
		if cfg.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, redis, postgres, got %q", cfg.Store.Backend)
	}
	if cfg.Entry.PostsPerChannel < 1 || cfg.Entry.PostsPerChannel > 200 {
		return fmt.Errorf("entry.posts_per_channel must be between 1 and 200, got %d", cfg.Entry.PostsPerChannel)
	}
	if cfg.Entry.MaxUnreadChannels < 0 {
		return fmt.Errorf("entry.max_unread_channels must be >= 0, got %d", cfg.Entry.MaxUnreadChannels)
	}
	if cfg.Entry.DeferredTimeoutSeconds < 1 {
		return fmt.Errorf("entry.deferred_timeout_seconds must be >= 1, got %d", cfg.Entry.DeferredTimeoutSeconds)
	}
	if cfg.Server.SessionLengthHours < 0 {
		return fmt.Errorf("server.session_length_hours must be >= 0, got %d", cfg.Server.SessionLengthHours)
	}
	return nil
}
