// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/placemirror/config.yaml",
	"/etc/placemirror/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults: the Estonian mirror region
// at zoom 10, public upstream endpoints, and conservative cadence tuning.
func defaultConfig() *Config {
	return &Config{
		Region: RegionConfig{
			South: 57.50,
			West:  21.50,
			North: 59.70,
			East:  28.21,
			Zoom:  10,
		},
		Source: SourceConfig{
			Endpoints: []string{
				"https://overpass-api.de/api/interpreter",
				"https://overpass.kumi.systems/api/interpreter",
			},
			Timeout:     30 * time.Second,
			MaxAttempts: 4,
			BackoffBase: 500 * time.Millisecond,
			BackoffMax:  15 * time.Second,
			UserAgent:   "placemirror/1.0 (+https://github.com/placemirror/placemirror)",
		},
		Sync: SyncConfig{
			Workers:        4,
			IdleSleep:      30 * time.Second,
			MinInterval:    5 * time.Minute,
			MaxInterval:    6 * time.Hour,
			RetryInterval:  15 * time.Minute,
			ActivityCap:    20,
			ActivityWeight: 1.0,
			ChangeBoost:    1.0,
		},
		Density: DensityConfig{
			Enabled: true,
			TopK:    20,
			Weight:  2.0,
		},
		Events: EventsConfig{
			MaxStreamLen: 10000,
		},
		Redis: RedisConfig{
			Addr:     "127.0.0.1:6379",
			Password: "",
			DB:       0,
		},
		Store: StoreConfig{
			Driver: "postgres",
			DSN:    "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load reads configuration in layers with clear precedence:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// they arrive as strings from the environment.
var sliceConfigPaths = []string{
	"source.endpoints",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		// Already a slice (from defaults or YAML): nothing to do.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names to config paths. Unmapped
// variables are ignored so random environment noise never pollutes config.
var envMappings = map[string]string{
	"region_south": "region.south",
	"region_west":  "region.west",
	"region_north": "region.north",
	"region_east":  "region.east",
	"region_zoom":  "region.zoom",

	"source_endpoints":    "source.endpoints",
	"source_timeout":      "source.timeout",
	"source_max_attempts": "source.max_attempts",
	"source_backoff_base": "source.backoff_base",
	"source_backoff_max":  "source.backoff_max",
	"source_user_agent":   "source.user_agent",

	"sync_workers":         "sync.workers",
	"sync_idle_sleep":      "sync.idle_sleep",
	"sync_min_interval":    "sync.min_interval",
	"sync_max_interval":    "sync.max_interval",
	"sync_retry_interval":  "sync.retry_interval",
	"sync_activity_cap":    "sync.activity_cap",
	"sync_activity_weight": "sync.activity_weight",
	"sync_change_boost":    "sync.change_boost",

	"density_enabled": "density.enabled",
	"density_top_k":   "density.top_k",
	"density_weight":  "density.weight",

	"events_max_stream_len": "events.max_stream_len",

	"redis_addr":     "redis.addr",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",

	"store_driver": "store.driver",
	"store_dsn":    "store.dsn",

	"metrics_enabled": "metrics.enabled",
	"metrics_addr":    "metrics.addr",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
