// Package config loads the broker's runtime configuration from environment
// variables (and an optional .env file) using envdecode and godotenv.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host    string `env:"SERVER_HOST"`
	Port    int    `env:"SERVER_PORT"`
	TLSCert string `env:"SERVER_TLS_CERT"`
	TLSKey  string `env:"SERVER_TLS_KEY"`
}

// DatabaseConfig controls the engine-registration Postgres store.
type DatabaseConfig struct {
	DSN            string `env:"DATABASE_DSN"`
	MigrateOnStart bool   `env:"DATABASE_MIGRATE_ON_START"`
}

// RedisConfig controls the optional read-through registration cache. Addr
// empty disables caching: cmd/broker then uses the Postgres store directly,
// without a registry.CachedRegistry in front of it.
type RedisConfig struct {
	Addr string `env:"REDIS_ADDR"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"`
	Format string `env:"LOG_FORMAT"`
}

// BrokerConfig controls job-rendezvous tuning knobs (spec §4, §9).
type BrokerConfig struct {
	MaxActiveSessions  int           `env:"BROKER_MAX_ACTIVE_SESSIONS"`
	SessionBufferChunk int           `env:"BROKER_SESSION_BUFFER_CHUNKS"`
	MinAcquireTimeout  time.Duration `env:"BROKER_MIN_ACQUIRE_TIMEOUT"`
	MaxAcquireTimeout  time.Duration `env:"BROKER_MAX_ACQUIRE_TIMEOUT"`
	IdleAcquiredBudget time.Duration `env:"BROKER_IDLE_ACQUIRED_BUDGET"`
}

// AuthConfig controls the admin API's bearer JWT.
type AuthConfig struct {
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET"`
}

// CORSConfig controls which browser origins may call the analyse/acquire
// surface directly.
type CORSConfig struct {
	AllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`
}

// Origins splits the comma-separated AllowedOrigins into a slice, trimming
// whitespace around each entry.
func (c CORSConfig) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// RateLimitConfig controls the per-remote-address token bucket guarding
// analyse and acquire (spec §11.6).
type RateLimitConfig struct {
	Requests int           `env:"RATE_LIMIT_REQUESTS"`
	Window   time.Duration `env:"RATE_LIMIT_WINDOW"`
	Burst    int           `env:"RATE_LIMIT_BURST"`
}

// Config is the top-level broker configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Logging   LoggingConfig
	Broker    BrokerConfig
	Auth      AuthConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
}

// New returns a Config populated with defaults, before env overrides.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			MigrateOnStart: true,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Broker: BrokerConfig{
			MaxActiveSessions:  10000,
			SessionBufferChunk: 8,
			MinAcquireTimeout:  3 * time.Second,
			MaxAcquireTimeout:  25 * time.Second,
			IdleAcquiredBudget: 60 * time.Second,
		},
		CORS: CORSConfig{AllowedOrigins: "http://localhost:3000,http://localhost:5173"},
		RateLimit: RateLimitConfig{
			Requests: 100,
			Window:   time.Minute,
			Burst:    100,
		},
	}
}

// Load reads .env (if present) then overlays environment variables onto
// defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()
	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors out when it finds no tagged fields set in the
		// environment; treat that as "no overrides" so defaults-only local
		// runs work without an .env file.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("DATABASE_DSN is required")
	}
	return cfg, nil
}

// Addr returns the host:port the server should listen on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TLSEnabled reports whether both TLS cert and key were configured.
func (c ServerConfig) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}
