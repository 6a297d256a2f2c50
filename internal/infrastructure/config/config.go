package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Sessions  SessionConfig
	RateLimit RateLimitConfig
	Logging   LogConfig
	HTTPLimit HTTPLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8700"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// StorageConfig holds snapshot storage configuration.
type StorageConfig struct {
	Dir             string        `envconfig:"SNAPSHOT_DIR" default:"/var/lib/loom/snapshots"`
	MaxFileSize     int64         `envconfig:"SNAPSHOT_MAX_BYTES" default:"10485760"`
	MaxPopulation   int           `envconfig:"SNAPSHOT_MAX_COUNT" default:"100"`
	AutoEvict       bool          `envconfig:"SNAPSHOT_AUTO_EVICT" default:"false"`
	SweepAge        time.Duration `envconfig:"SNAPSHOT_SWEEP_AGE" default:"720h"`
}

// SessionConfig holds live session configuration.
type SessionConfig struct {
	MaxLive        int `envconfig:"SESSIONS_MAX_LIVE" default:"20"`
	MaxMessages    int `envconfig:"SESSIONS_MAX_MESSAGES" default:"1000"`
}

// RateLimitConfig holds resume admission limits for the persistence engine.
// Session scope throttles one session id; global scope blocks fan-out across
// many ids.
type RateLimitConfig struct {
	SessionLimit  int           `envconfig:"RESUME_SESSION_LIMIT" default:"5"`
	SessionWindow time.Duration `envconfig:"RESUME_SESSION_WINDOW" default:"1m"`
	GlobalLimit   int           `envconfig:"RESUME_GLOBAL_LIMIT" default:"20"`
	GlobalWindow  time.Duration `envconfig:"RESUME_GLOBAL_WINDOW" default:"1m"`
}

// HTTPLimitConfig holds edge rate limiting for the HTTP surface.
type HTTPLimitConfig struct {
	RequestsPerSecond int  `envconfig:"HTTP_RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"HTTP_RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"HTTP_RATE_LIMIT_ENABLED" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("LOOM", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8700",
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			Dir:           "/var/lib/loom/snapshots",
			MaxFileSize:   10 * 1024 * 1024,
			MaxPopulation: 100,
			AutoEvict:     false,
			SweepAge:      30 * 24 * time.Hour,
		},
		Sessions: SessionConfig{
			MaxLive:     20,
			MaxMessages: 1000,
		},
		RateLimit: RateLimitConfig{
			SessionLimit:  5,
			SessionWindow: time.Minute,
			GlobalLimit:   20,
			GlobalWindow:  time.Minute,
		},
		HTTPLimit: HTTPLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
