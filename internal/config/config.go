// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

/*
config.go - Configuration Types and Validation

All tunables of the mirror, grouped by concern. Values are loaded in
layers (defaults, optional YAML file, environment variables) and validated
once at startup; an invalid configuration is a fatal startup error, never
a silent fallback.
*/
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Region  RegionConfig  `koanf:"region"`
	Source  SourceConfig  `koanf:"source"`
	Sync    SyncConfig    `koanf:"sync"`
	Density DensityConfig `koanf:"density"`
	Events  EventsConfig  `koanf:"events"`
	Redis   RedisConfig   `koanf:"redis"`
	Store   StoreConfig   `koanf:"store"`
	Metrics MetricsConfig `koanf:"metrics"`
	Logging LoggingConfig `koanf:"logging"`
}

// RegionConfig defines the mirrored geographic slice.
type RegionConfig struct {
	South float64 `koanf:"south"`
	West  float64 `koanf:"west"`
	North float64 `koanf:"north"`
	East  float64 `koanf:"east"`
	Zoom  int     `koanf:"zoom"`
}

// SourceConfig tunes the upstream fetch client.
type SourceConfig struct {
	Endpoints   []string      `koanf:"endpoints"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxAttempts int           `koanf:"max_attempts"`
	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffMax  time.Duration `koanf:"backoff_max"`
	UserAgent   string        `koanf:"user_agent"`
}

// SyncConfig tunes the worker pool and the adaptive cadence.
type SyncConfig struct {
	Workers        int           `koanf:"workers"`
	IdleSleep      time.Duration `koanf:"idle_sleep"`
	MinInterval    time.Duration `koanf:"min_interval"`
	MaxInterval    time.Duration `koanf:"max_interval"`
	RetryInterval  time.Duration `koanf:"retry_interval"`
	ActivityCap    float64       `koanf:"activity_cap"`
	ActivityWeight float64       `koanf:"activity_weight"`
	ChangeBoost    float64       `koanf:"change_boost"`
}

// DensityConfig tunes spatial-density prewarming.
type DensityConfig struct {
	Enabled bool    `koanf:"enabled"`
	TopK    int     `koanf:"top_k"`
	Weight  float64 `koanf:"weight"`
}

// EventsConfig tunes the change-event streams.
type EventsConfig struct {
	MaxStreamLen int64 `koanf:"max_stream_len"`
}

// RedisConfig locates the scheduler state and event streams.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// StoreConfig selects and locates the venue store.
type StoreConfig struct {
	// Driver is "postgres" or "memory". Memory exists for local runs;
	// selecting it is an explicit decision, never a fallback.
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// MetricsConfig tunes the observability endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LoggingConfig tunes structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for internal consistency. Called once
// after loading; errors are fatal.
func (c *Config) Validate() error {
	r := c.Region
	if r.South >= r.North {
		return fmt.Errorf("region: south (%v) must be below north (%v)", r.South, r.North)
	}
	if r.West >= r.East {
		return fmt.Errorf("region: west (%v) must be left of east (%v)", r.West, r.East)
	}
	if r.South < -85.0511 || r.North > 85.0511 {
		return fmt.Errorf("region: latitudes must stay within the Web Mercator range")
	}
	if r.West < -180 || r.East > 180 {
		return fmt.Errorf("region: longitudes must be within [-180, 180]")
	}
	if r.Zoom < 1 || r.Zoom > 16 {
		return fmt.Errorf("region: zoom %d outside supported range [1, 16]", r.Zoom)
	}

	if len(c.Source.Endpoints) == 0 {
		return fmt.Errorf("source: at least one endpoint is required")
	}
	if c.Source.MaxAttempts < 1 {
		return fmt.Errorf("source: max_attempts must be at least 1")
	}

	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync: workers must be at least 1")
	}
	if c.Sync.MinInterval <= 0 || c.Sync.MaxInterval <= 0 {
		return fmt.Errorf("sync: intervals must be positive")
	}
	if c.Sync.MinInterval > c.Sync.MaxInterval {
		return fmt.Errorf("sync: min_interval (%v) exceeds max_interval (%v)",
			c.Sync.MinInterval, c.Sync.MaxInterval)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store: dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store: unknown driver %q (expected postgres or memory)", c.Store.Driver)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis: addr is required")
	}

	return nil
}
