// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the sync engine:
// - tile pipeline throughput and failures
// - upstream fetch behavior (attempts, retries, fallbacks)
// - transformer drop counts
// - event stream publishing
// - scheduler pressure

var (
	TilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemirror_tiles_processed_total",
			Help: "Total number of tile sync attempts by result",
		},
		[]string{"result"}, // "ok", "failed"
	)

	VenueChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemirror_venue_changes_total",
			Help: "Total number of venue classifications by kind",
		},
		[]string{"kind"}, // "created", "updated", "unchanged"
	)

	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemirror_fetch_attempts_total",
			Help: "Total upstream fetch attempts by outcome",
		},
		[]string{"outcome"}, // "ok", "retryable", "rejected_filter", "failed"
	)

	FilterFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "placemirror_filter_fallbacks_total",
			Help: "Times a changed-since query was re-issued unfiltered after rejection",
		},
	)

	ElementsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemirror_elements_dropped_total",
			Help: "Raw elements dropped by the transformer by reason",
		},
		[]string{"reason"}, // "no_coordinates", "no_name", "name_too_long"
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemirror_events_published_total",
			Help: "Events appended to a stream by stream name",
		},
		[]string{"stream"},
	)

	EventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "placemirror_event_publish_errors_total",
			Help: "Event publish failures (logged, never escalated)",
		},
	)

	TileSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "placemirror_tile_sync_duration_seconds",
			Help:    "Wall-clock duration of a single tile's pipeline",
			Buckets: prometheus.DefBuckets,
		},
	)

	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placemirror_pass_duration_seconds",
			Help:    "Duration of a full or incremental pass",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"mode"}, // "full", "incremental"
	)

	TilesPrewarmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "placemirror_tiles_prewarmed_total",
			Help: "Tiles pulled forward in the schedule by density prewarming",
		},
	)

	DueTiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "placemirror_due_tiles",
			Help: "Number of tiles selected in the last scheduling tick",
		},
	)
)

// RecordTileSync records a single tile pipeline outcome.
func RecordTileSync(duration time.Duration, failed bool) {
	TileSyncDuration.Observe(duration.Seconds())
	if failed {
		TilesProcessed.WithLabelValues("failed").Inc()
	} else {
		TilesProcessed.WithLabelValues("ok").Inc()
	}
}
