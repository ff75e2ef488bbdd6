// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package schedule

import (
	"context"
	"time"

	"github.com/placemirror/placemirror/internal/logging"
	"github.com/placemirror/placemirror/internal/metrics"
	"github.com/placemirror/placemirror/internal/models"
	"github.com/placemirror/placemirror/internal/spatial"
	"github.com/placemirror/placemirror/internal/tile"
)

// PrewarmConfig tunes density-based prewarming.
type PrewarmConfig struct {
	// TopK is how many of the densest spatial cells are considered per pass.
	TopK int

	// Weight scales the activity boost granted to the hottest cell's tile;
	// cooler cells get proportionally less.
	Weight float64

	// Zoom is the tile zoom level of the mirrored region.
	Zoom int
}

// Prewarmer pulls the tiles under the densest spatial cells forward in the
// schedule before each incremental pass, so the hottest areas are synced
// first after a restart or a quiet stretch.
type Prewarmer struct {
	store Store
	cfg   PrewarmConfig
	now   func() time.Time
}

// NewPrewarmer creates a prewarmer over the scheduling store.
func NewPrewarmer(store Store, cfg PrewarmConfig) *Prewarmer {
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	if cfg.Weight <= 0 {
		cfg.Weight = 2.0
	}
	return &Prewarmer{store: store, cfg: cfg, now: time.Now}
}

// Run boosts and pulls forward the tiles containing the top-K densest
// cells. Best effort: a failure on one cell skips it rather than aborting
// the pass.
func (p *Prewarmer) Run(ctx context.Context) error {
	cells, err := p.store.TopCells(ctx, p.cfg.TopK)
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		return nil
	}
	top := cells[0].Score
	if top <= 0 {
		return nil
	}

	now := p.now()
	warmed := 0
	for _, cs := range cells {
		lat, lon, err := spatial.CellCenter(cs.Cell)
		if err != nil {
			logging.Warn().Err(err).Str("cell", cs.Cell).Msg("skipping unresolvable density cell")
			continue
		}
		x, y := tile.TileFor(lat, lon, p.cfg.Zoom)
		id := models.TileID{Zoom: p.cfg.Zoom, X: x, Y: y}

		boost := p.cfg.Weight * cs.Score / top
		if err := p.store.BumpActivity(ctx, id, boost); err != nil {
			logging.Warn().Err(err).Str("tile", id.String()).Msg("prewarm activity bump failed")
			continue
		}
		if err := p.store.MarkDueNow(ctx, id, now); err != nil {
			logging.Warn().Err(err).Str("tile", id.String()).Msg("prewarm mark-due failed")
			continue
		}
		warmed++
	}
	if warmed > 0 {
		metrics.TilesPrewarmed.Add(float64(warmed))
		logging.Debug().Int("tiles", warmed).Msg("prewarmed dense tiles")
	}
	return nil
}
