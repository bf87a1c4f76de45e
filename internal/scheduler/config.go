package scheduler

import (
	"time"

	"github.com/smallbiznis/ziswaf/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval        time.Duration
	BatchSize          int
	DrainTimeout       time.Duration
	CleanupInterval    time.Duration
	CompletedRetention time.Duration
	EnabledJobs        []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        5 * time.Second,
		BatchSize:          50,
		DrainTimeout:       5 * time.Minute,
		CleanupInterval:    time.Hour,
		CompletedRetention: 7 * 24 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Worker.RunInterval,
		BatchSize:   cfg.Worker.BatchSize,
		EnabledJobs: cfg.Worker.EnabledJobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaults.DrainTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaults.CleanupInterval
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = defaults.CompletedRetention
	}
	return c
}
