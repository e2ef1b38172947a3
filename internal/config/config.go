package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete engine configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Presence PresenceConfig `mapstructure:"presence"`
	Locks    LockConfig     `mapstructure:"locks"`
	Sessions SessionConfig  `mapstructure:"sessions"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP collaborator surface
type ServerConfig struct {
	// Addr is the listen address for the HTTP API
	Addr string `mapstructure:"addr"`
}

// StoreConfig controls the backing store
type StoreConfig struct {
	// Path is the SQLite database file path
	Path string `mapstructure:"path"`
	// BusyRetries is the max attempts for transient busy errors in the sweep
	BusyRetries int `mapstructure:"busy_retries"`
	// BusyBackoffMs is the base backoff between busy retries (jittered)
	BusyBackoffMs int `mapstructure:"busy_backoff_ms"`
}

// PresenceConfig controls liveness tracking
type PresenceConfig struct {
	// HeartbeatTimeout is how long a machine or instance may go without a
	// heartbeat before the sweep marks it offline/disconnected
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	// SweepInterval is how often the presence sweep runs
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LockConfig controls file lock TTL bounds and cleanup
type LockConfig struct {
	// DefaultTTL is applied when a caller requests a zero TTL
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	// MinTTL and MaxTTL clamp caller-specified TTLs
	MinTTL time.Duration `mapstructure:"min_ttl"`
	MaxTTL time.Duration `mapstructure:"max_ttl"`
	// CleanupInterval is how often expired lock rows and old output chunks
	// are garbage-collected. Expiry is logical at access time; this only
	// bounds storage.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// SessionConfig controls session broker behavior
type SessionConfig struct {
	// ScrollbackBytes is the per-session output history budget; oldest
	// chunks are evicted beyond it
	ScrollbackBytes int `mapstructure:"scrollback_bytes"`
	// DefaultMaxSessions is the per-machine concurrent session limit used
	// when a machine registers without one
	DefaultMaxSessions int `mapstructure:"default_max_sessions"`
	// ChunkRetention is how long persisted output chunks are kept before
	// the cleanup sweep deletes them
	ChunkRetention time.Duration `mapstructure:"chunk_retention"`
}

// RelayConfig controls the external pub/sub transport
type RelayConfig struct {
	// Enabled toggles forwarding bus events to the external transport
	Enabled bool `mapstructure:"enabled"`
	// NATSURL is the NATS server URL
	NATSURL string `mapstructure:"nats_url"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level"`
	// Dir is the log directory; empty logs to stderr
	Dir string `mapstructure:"dir"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8790",
		},
		Store: StoreConfig{
			Path:          filepath.Join(DataDir(), "claudenest.db"),
			BusyRetries:   5,
			BusyBackoffMs: 50,
		},
		Presence: PresenceConfig{
			HeartbeatTimeout: 2 * time.Minute,
			SweepInterval:    time.Minute,
		},
		Locks: LockConfig{
			DefaultTTL:      15 * time.Minute,
			MinTTL:          time.Minute,
			MaxTTL:          4 * time.Hour,
			CleanupInterval: 24 * time.Hour,
		},
		Sessions: SessionConfig{
			ScrollbackBytes:    256 * 1024,
			DefaultMaxSessions: 8,
			ChunkRetention:     24 * time.Hour,
		},
		Relay: RelayConfig{
			Enabled: false,
			NATSURL: "nats://127.0.0.1:4222",
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("server.addr", defaults.Server.Addr)

	viper.SetDefault("store.path", defaults.Store.Path)
	viper.SetDefault("store.busy_retries", defaults.Store.BusyRetries)
	viper.SetDefault("store.busy_backoff_ms", defaults.Store.BusyBackoffMs)

	viper.SetDefault("presence.heartbeat_timeout", defaults.Presence.HeartbeatTimeout)
	viper.SetDefault("presence.sweep_interval", defaults.Presence.SweepInterval)

	viper.SetDefault("locks.default_ttl", defaults.Locks.DefaultTTL)
	viper.SetDefault("locks.min_ttl", defaults.Locks.MinTTL)
	viper.SetDefault("locks.max_ttl", defaults.Locks.MaxTTL)
	viper.SetDefault("locks.cleanup_interval", defaults.Locks.CleanupInterval)

	viper.SetDefault("sessions.scrollback_bytes", defaults.Sessions.ScrollbackBytes)
	viper.SetDefault("sessions.default_max_sessions", defaults.Sessions.DefaultMaxSessions)
	viper.SetDefault("sessions.chunk_retention", defaults.Sessions.ChunkRetention)

	viper.SetDefault("relay.enabled", defaults.Relay.Enabled)
	viper.SetDefault("relay.nats_url", defaults.Relay.NATSURL)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Init configures viper: config file discovery, env binding, defaults.
// Call once at process start, before Load.
func Init(cfgFile string) error {
	SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("CLAUDENEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// Load unmarshals and validates the current configuration
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "claudenest")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claudenest"
	}
	return filepath.Join(home, ".config", "claudenest")
}

// DataDir returns the path to the user's data directory
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "claudenest")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claudenest"
	}
	return filepath.Join(home, ".local", "share", "claudenest")
}
