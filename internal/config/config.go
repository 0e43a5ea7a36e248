// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string        `env:"DATABASE_PATH" envDefault:"./data/calsync.db"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	SyncSchedule string        `env:"SYNC_SCHEDULE" envDefault:"*/5 * * * *"`
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes int64         `env:"MAX_BODY_BYTES" envDefault:"10485760"`
}

// Load reads configuration from the environment, after loading an
// optional .env file from the working directory.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set variables directly.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cron.ParseStandard(cfg.SyncSchedule); err != nil {
		return nil, fmt.Errorf("invalid SYNC_SCHEDULE %q: %w", cfg.SyncSchedule, err)
	}
	if cfg.HTTPTimeout <= 0 {
		return nil, fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", cfg.HTTPTimeout)
	}
	return &cfg, nil
}
