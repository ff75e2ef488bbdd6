// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

// Package schedule decides when each tile is synchronized next. Per-tile
// state (priority, activity, last sync) lives in a durable store so restarts
// resume the cadence instead of re-syncing everything; due times are held in
// a sorted set keyed by next-run time so picking due work is a range query.
package schedule

import (
	"context"
	"time"

	"github.com/placemirror/placemirror/internal/models"
)

// TileState is the persisted scheduling state of one tile.
type TileState struct {
	Priority float64
	Activity float64
	LastSync time.Time
}

// CellScore pairs a spatial cell with its accumulated change activity.
type CellScore struct {
	Cell  string
	Score float64
}

// Store persists tile scheduling state. Implementations must be safe for
// concurrent use.
type Store interface {
	// Seeded reports whether the tile set has already been registered.
	Seeded(ctx context.Context) (bool, error)

	// SeedTiles registers tiles with default priority, all due at now.
	// Tiles already present keep their state.
	SeedTiles(ctx context.Context, tiles []models.TileID, now time.Time) error

	// DueTiles returns tiles whose next-run time is at or before now,
	// soonest first. limit <= 0 returns the entire due set.
	DueTiles(ctx context.Context, now time.Time, limit int64) ([]models.TileID, error)

	// States fetches scheduling state for the given tiles. Unknown tiles
	// are absent from the result.
	States(ctx context.Context, ids []models.TileID) (map[models.TileID]TileState, error)

	// SetNextRun schedules a tile's next sync at the given time.
	SetNextRun(ctx context.Context, id models.TileID, at time.Time) error

	// MarkSynced records a successful sync at the given time.
	MarkSynced(ctx context.Context, id models.TileID, at time.Time) error

	// BumpActivity adds delta to a tile's activity score.
	BumpActivity(ctx context.Context, id models.TileID, delta float64) error

	// MarkDueNow pulls a tile's next-run time forward to now, but never
	// pushes an earlier due time back.
	MarkDueNow(ctx context.Context, id models.TileID, now time.Time) error

	// BumpCellActivity adds delta to a spatial cell's density score.
	BumpCellActivity(ctx context.Context, cell string, delta float64) error

	// TopCells returns the k highest-scoring spatial cells, best first.
	TopCells(ctx context.Context, k int) ([]CellScore, error)

	// Close releases the store's resources.
	Close() error
}
