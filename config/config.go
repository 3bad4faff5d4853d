// Package config loads node configuration from the environment, the
// same way for cmd/scheduler, cmd/worker, and cmd/seed.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the environment-driven configuration shared by every node
// binary. Not every field is read by every binary (cmd/seed, for
// instance, never starts a scheduler loop), but keeping one struct
// keeps env var names consistent across the fleet.
type Config struct {
	Env string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`

	// Backend selects the Store implementation: "memory" or "postgres".
	Backend     string `env:"BACKEND" envDefault:"memory" validate:"required,oneof=memory postgres"`
	DatabaseURL string `env:"DATABASE_URL" validate:"required_if=Backend postgres"`

	// BrokerBackend selects the Broker implementation: "local" or "redis".
	BrokerBackend string `env:"BROKER_BACKEND" envDefault:"local" validate:"required,oneof=local redis"`
	RedisAddr     string `env:"REDIS_ADDR" validate:"required_if=BrokerBackend redis"`

	NodeID string `env:"NODE_ID"`

	PollIntervalSec   int `env:"POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	LeaseDurationSec  int `env:"LEASE_DURATION_SEC" envDefault:"30" validate:"min=1,max=3600"`
	BatchLimit        int `env:"BATCH_LIMIT" envDefault:"100" validate:"min=1,max=10000"`
	WorkerConcurrency int `env:"WORKER_CONCURRENCY" envDefault:"5" validate:"min=1,max=1000"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`
}

// Load parses and validates Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts LOG_LEVEL to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PollInterval is PollIntervalSec as a time.Duration.
func (c *Config) PollInterval() time.Duration { return time.Duration(c.PollIntervalSec) * time.Second }

// LeaseDuration is LeaseDurationSec as a time.Duration.
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseDurationSec) * time.Second
}
