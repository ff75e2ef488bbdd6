// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/placemirror/placemirror/internal/logging"
	"github.com/placemirror/placemirror/internal/models"
)

// Config tunes the adaptive sync cadence.
type Config struct {
	// MinInterval floors how often a tile can be re-synced, no matter how
	// active it is.
	MinInterval time.Duration

	// MaxInterval is the cadence of a completely quiet tile.
	MaxInterval time.Duration

	// RetryInterval is the fixed re-check window after a failed sync.
	RetryInterval time.Duration

	// ActivityCap bounds the activity score used in interval shrinking, so
	// one hot tile cannot collapse its interval to MinInterval forever.
	ActivityCap float64

	// ActivityWeight scales activity when ranking due tiles.
	ActivityWeight float64

	// ChangeBoost is the activity added per observed change.
	ChangeBoost float64
}

// DefaultConfig returns the tuning used in production.
func DefaultConfig() Config {
	return Config{
		MinInterval:    5 * time.Minute,
		MaxInterval:    6 * time.Hour,
		RetryInterval:  15 * time.Minute,
		ActivityCap:    20,
		ActivityWeight: 1.0,
		ChangeBoost:    1.0,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.ActivityCap <= 0 {
		c.ActivityCap = d.ActivityCap
	}
	if c.ActivityWeight <= 0 {
		c.ActivityWeight = d.ActivityWeight
	}
	if c.ChangeBoost <= 0 {
		c.ChangeBoost = d.ChangeBoost
	}
}

// DueTile is a tile selected for syncing, with the state that ranked it.
type DueTile struct {
	ID    models.TileID
	State TileState
}

// Scheduler maps tile activity to sync cadence: active tiles are re-synced
// near MinInterval, quiet tiles drift out to MaxInterval, failed tiles are
// re-checked after a fixed retry window.
type Scheduler struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// NewScheduler creates a scheduler on top of a state store. Zero config
// fields take defaults.
func NewScheduler(store Store, cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{store: store, cfg: cfg, now: time.Now}
}

// InitTiles seeds the tile set on first run. A store that already holds
// tiles keeps its accumulated state untouched, so restarts resume the
// cadence instead of re-syncing the world.
func (s *Scheduler) InitTiles(ctx context.Context, tiles []models.TileID) error {
	seeded, err := s.store.Seeded(ctx)
	if err != nil {
		return fmt.Errorf("check seeded: %w", err)
	}
	if seeded {
		logging.Debug().Msg("tile set already seeded, keeping existing schedule state")
		return nil
	}
	if err := s.store.SeedTiles(ctx, tiles, s.now()); err != nil {
		return fmt.Errorf("seed tiles: %w", err)
	}
	logging.Info().Int("tiles", len(tiles)).Msg("seeded tile schedule")
	return nil
}

// PickDue ranks the entire due set by priority plus weighted activity and
// returns the top k, so a hot tile preempts quieter ones even when a large
// backlog is due at once.
func (s *Scheduler) PickDue(ctx context.Context, k int) ([]DueTile, error) {
	ids, err := s.store.DueTiles(ctx, s.now(), 0)
	if err != nil {
		return nil, fmt.Errorf("list due tiles: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	states, err := s.store.States(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch tile states: %w", err)
	}
	out := make([]DueTile, 0, len(ids))
	for _, id := range ids {
		out = append(out, DueTile{ID: id, State: states[id]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return s.rank(out[i].State) > s.rank(out[j].State)
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Scheduler) rank(st TileState) float64 {
	return st.Priority + st.Activity*s.cfg.ActivityWeight
}

// Interval maps an activity score to a sync interval. The interval shrinks
// hyperbolically with activity and is clamped to [MinInterval, MaxInterval].
func (s *Scheduler) Interval(activity float64) time.Duration {
	if activity < 0 {
		activity = 0
	}
	if activity > s.cfg.ActivityCap {
		activity = s.cfg.ActivityCap
	}
	iv := time.Duration(float64(s.cfg.MaxInterval) / (1.0 + activity))
	if iv < s.cfg.MinInterval {
		iv = s.cfg.MinInterval
	}
	if iv > s.cfg.MaxInterval {
		iv = s.cfg.MaxInterval
	}
	return iv
}

// ScheduleNext records a sync outcome and sets the tile's next run. Success
// uses the activity-derived interval; failure uses the fixed retry window so
// a flapping upstream cannot starve a tile forever.
//
// startedAt is the moment the tile's fetch began and becomes the sync
// watermark. Stamping the reschedule time instead would let an upstream
// edit landing mid-pipeline fall behind the watermark and be excluded from
// every later changed-since fetch.
func (s *Scheduler) ScheduleNext(ctx context.Context, id models.TileID, success bool, startedAt time.Time) error {
	now := s.now()
	if !success {
		return s.store.SetNextRun(ctx, id, now.Add(s.cfg.RetryInterval))
	}
	if startedAt.IsZero() {
		startedAt = now
	}
	states, err := s.store.States(ctx, []models.TileID{id})
	if err != nil {
		return fmt.Errorf("fetch state for %s: %w", id, err)
	}
	if err := s.store.MarkSynced(ctx, id, startedAt); err != nil {
		return err
	}
	return s.store.SetNextRun(ctx, id, now.Add(s.Interval(states[id].Activity)))
}

// RecordChanges feeds observed changes back into the cadence: the tile's
// activity grows by ChangeBoost per change, and each changed venue's spatial
// cell accumulates density for the prewarmer.
func (s *Scheduler) RecordChanges(ctx context.Context, id models.TileID, cells []string, changes int) error {
	if changes <= 0 {
		return nil
	}
	if err := s.store.BumpActivity(ctx, id, s.cfg.ChangeBoost*float64(changes)); err != nil {
		return err
	}
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		if err := s.store.BumpCellActivity(ctx, cell, s.cfg.ChangeBoost); err != nil {
			return err
		}
	}
	return nil
}
