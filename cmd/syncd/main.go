// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

// Package main is the entry point for the placemirror sync daemon.
//
// Placemirror maintains a continuously fresh local mirror of venues (cafes,
// restaurants, hotels, parks and similar places) for one geographic region,
// fetched from a crowd-sourced geographic database. The region is divided
// into a fixed grid of map tiles; each tile is synced independently on an
// adaptive cadence driven by how often its contents actually change.
//
// # Modes
//
// The daemon runs in one of two modes, selected by the first argument:
//
//	syncd full                      # sync every tile once, unfiltered
//	syncd incremental               # run the adaptive scheduler loop
//	syncd incremental -iterations 5 # run a bounded number of ticks
//
// A full pass is used for first population and manual re-baselining; the
// incremental loop is the normal operating mode.
//
// # Infrastructure
//
// Redis holds scheduler state and the bounded change-event streams; its
// unavailability is fatal at startup because no sync decision can be made
// without it. Venue records persist in Postgres (or in memory for local
// runs, via STORE_DRIVER=memory).
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config.yaml, built-in defaults.
// A .env file in the working directory is honored when present.
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the pass gracefully: no further tiles are
// submitted, and tiles already in flight run to completion.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/placemirror/placemirror/internal/config"
	"github.com/placemirror/placemirror/internal/events"
	"github.com/placemirror/placemirror/internal/logging"
	"github.com/placemirror/placemirror/internal/models"
	"github.com/placemirror/placemirror/internal/orchestrator"
	"github.com/placemirror/placemirror/internal/schedule"
	"github.com/placemirror/placemirror/internal/source"
	"github.com/placemirror/placemirror/internal/spatial"
	"github.com/placemirror/placemirror/internal/store"
	"github.com/placemirror/placemirror/internal/transform"
)

func main() {
	// A .env file is a local-development convenience; absence is normal.
	_ = godotenv.Load()

	mode, iterations, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage: syncd full | incremental [-iterations N]\n")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("mode", mode).
		Str("region", fmt.Sprintf("%.2f,%.2f..%.2f,%.2f", cfg.Region.South, cfg.Region.West, cfg.Region.North, cfg.Region.East)).
		Int("zoom", cfg.Region.Zoom).
		Int("workers", cfg.Sync.Workers).
		Msg("Starting placemirror")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis carries scheduler state and event streams; without it no sync
	// decision can be made, so failing here is the correct behavior.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logging.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing Redis client")
		}
	}()

	venues, err := openVenueStore(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open venue store")
	}
	defer func() {
		if err := venues.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing venue store")
		}
	}()

	bus := events.NewRedisBus(rdb, cfg.Events.MaxStreamLen)
	schedStore := schedule.NewRedisStore(rdb)
	sched := schedule.NewScheduler(schedStore, schedule.Config{
		MinInterval:    cfg.Sync.MinInterval,
		MaxInterval:    cfg.Sync.MaxInterval,
		RetryInterval:  cfg.Sync.RetryInterval,
		ActivityCap:    cfg.Sync.ActivityCap,
		ActivityWeight: cfg.Sync.ActivityWeight,
		ChangeBoost:    cfg.Sync.ChangeBoost,
	})

	var prewarmer *schedule.Prewarmer
	if cfg.Density.Enabled {
		prewarmer = schedule.NewPrewarmer(schedStore, schedule.PrewarmConfig{
			TopK:   cfg.Density.TopK,
			Weight: cfg.Density.Weight,
			Zoom:   cfg.Region.Zoom,
		})
	}

	transformer := transform.New(spatial.NewIndexer(spatial.DefaultResolution), 0)
	fetcher := source.NewClient(source.Config{
		Endpoints:   cfg.Source.Endpoints,
		Timeout:     cfg.Source.Timeout,
		MaxAttempts: cfg.Source.MaxAttempts,
		BackoffBase: cfg.Source.BackoffBase,
		BackoffMax:  cfg.Source.BackoffMax,
		UserAgent:   cfg.Source.UserAgent,
	})

	orch := orchestrator.New(orchestrator.Config{
		Region: models.BBox{
			South: cfg.Region.South,
			West:  cfg.Region.West,
			North: cfg.Region.North,
			East:  cfg.Region.East,
		},
		Zoom:      cfg.Region.Zoom,
		Workers:   cfg.Sync.Workers,
		IdleSleep: cfg.Sync.IdleSleep,
	}, fetcher, transformer, venues, bus, sched, prewarmer)

	if err := sched.InitTiles(ctx, orch.Tiles()); err != nil {
		logging.Fatal().Err(err).Msg("Failed to seed tile schedule")
	}

	if cfg.Metrics.Enabled {
		startMetricsServer(cfg.Metrics.Addr)
	}

	var sum orchestrator.Summary
	switch mode {
	case "full":
		sum, err = orch.RunFull(ctx)
	case "incremental":
		sum, err = orch.RunIncremental(ctx, iterations)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Sync run failed")
	}

	logging.Info().
		Int64("tiles_processed", sum.TilesProcessed).
		Int64("tiles_failed", sum.TilesFailed).
		Int64("created", sum.Created).
		Int64("updated", sum.Updated).
		Int64("unchanged", sum.Unchanged).
		Msg("Placemirror stopped")
}

// parseArgs resolves the run mode and its flags.
func parseArgs(args []string) (mode string, iterations int, err error) {
	if len(args) == 0 {
		return "", 0, errors.New("missing mode")
	}
	mode = args[0]
	switch mode {
	case "full":
		if len(args) > 1 {
			return "", 0, errors.New("full takes no flags")
		}
		return mode, 0, nil
	case "incremental":
		fs := flag.NewFlagSet("incremental", flag.ContinueOnError)
		n := fs.Int("iterations", 0, "number of scheduling ticks to run (0 = until signaled)")
		if err := fs.Parse(args[1:]); err != nil {
			return "", 0, err
		}
		return mode, *n, nil
	default:
		return "", 0, fmt.Errorf("unknown mode %q", mode)
	}
}

// openVenueStore selects the configured store driver. Postgres gets its
// schema applied idempotently at startup.
func openVenueStore(ctx context.Context, cfg *config.Config) (store.VenueStore, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := store.Open(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close() //nolint:errcheck
			return nil, err
		}
		logging.Info().Msg("Connected to Postgres venue store")
		return pg, nil
	case "memory":
		logging.Info().Msg("Using in-memory venue store (records do not survive restart)")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// startMetricsServer serves Prometheus metrics and a liveness probe.
// Failures are logged, not fatal: observability must never take down sync.
func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
}
