// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/placemirror/placemirror/internal/models"
)

func testConfig() Config {
	return Config{
		MinInterval:    5 * time.Minute,
		MaxInterval:    6 * time.Hour,
		RetryInterval:  15 * time.Minute,
		ActivityCap:    20,
		ActivityWeight: 1.0,
		ChangeBoost:    1.0,
	}
}

// The interval must shrink as activity grows, never dropping below the
// floor or exceeding the ceiling.
func TestScheduler_IntervalMonotonicInActivity(t *testing.T) {
	t.Parallel()

	s := NewScheduler(NewMemoryStore(), testConfig())

	prev := s.Interval(0)
	if prev != 6*time.Hour {
		t.Errorf("quiet tile interval = %v, want the 6h ceiling", prev)
	}
	for _, activity := range []float64{0.5, 1, 2, 5, 10, 20, 100} {
		iv := s.Interval(activity)
		if iv > prev {
			t.Errorf("interval grew from %v to %v at activity %v", prev, iv, activity)
		}
		if iv < 5*time.Minute {
			t.Errorf("interval %v below the 5m floor at activity %v", iv, activity)
		}
		prev = iv
	}
	// Capped: beyond the cap the interval stops shrinking.
	if s.Interval(20) != s.Interval(1000) {
		t.Error("activity beyond the cap kept shrinking the interval")
	}
}

func TestScheduler_FailureUsesRetryWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	s := NewScheduler(store, testConfig())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	id := models.TileID{Zoom: 10, X: 1, Y: 2}
	if err := s.InitTiles(ctx, []models.TileID{id}); err != nil {
		t.Fatalf("init: %v", err)
	}
	// Make the tile very active; a failure must still use the fixed
	// retry window, not the activity-derived interval.
	if err := store.BumpActivity(ctx, id, 50); err != nil {
		t.Fatalf("bump: %v", err)
	}

	if err := s.ScheduleNext(ctx, id, false, base); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	at, ok := store.NextRun(id)
	if !ok {
		t.Fatal("tile lost its schedule slot")
	}
	if got := at.Sub(base); got != 15*time.Minute {
		t.Errorf("failed tile rescheduled after %v, want 15m", got)
	}
}

func TestScheduler_SuccessUsesActivityInterval(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	s := NewScheduler(store, testConfig())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	id := models.TileID{Zoom: 10, X: 1, Y: 2}
	if err := s.InitTiles(ctx, []models.TileID{id}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.BumpActivity(ctx, id, 2); err != nil {
		t.Fatalf("bump: %v", err)
	}

	if err := s.ScheduleNext(ctx, id, true, base); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	at, _ := store.NextRun(id)
	if got := at.Sub(base); got != 2*time.Hour {
		t.Errorf("active tile rescheduled after %v, want 2h (6h / (1+2))", got)
	}
	states, _ := store.States(ctx, []models.TileID{id})
	if !states[id].LastSync.Equal(base) {
		t.Errorf("last sync = %v, want %v", states[id].LastSync, base)
	}
}

func TestScheduler_PickDueRanksByPriorityAndActivity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	s := NewScheduler(store, testConfig())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	quiet := models.TileID{Zoom: 10, X: 1, Y: 1}
	busy := models.TileID{Zoom: 10, X: 2, Y: 2}
	future := models.TileID{Zoom: 10, X: 3, Y: 3}
	if err := s.InitTiles(ctx, []models.TileID{quiet, busy, future}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.BumpActivity(ctx, busy, 5); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if err := store.SetNextRun(ctx, future, base.Add(time.Hour)); err != nil {
		t.Fatalf("set next run: %v", err)
	}

	due, err := s.PickDue(ctx, 10)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due tiles, want 2 (future tile must be excluded)", len(due))
	}
	if due[0].ID != busy {
		t.Errorf("first due tile = %s, want the active one", due[0].ID)
	}
	if due[1].ID != quiet {
		t.Errorf("second due tile = %s, want the quiet one", due[1].ID)
	}
}

// A hot tile must preempt quieter tiles even when it became due later than
// them: ranking covers the whole due set, not just the earliest-due slice.
func TestScheduler_PickDueLetsHotTilePreemptBacklog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	s := NewScheduler(store, testConfig())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	quiet := []models.TileID{
		{Zoom: 10, X: 1, Y: 1},
		{Zoom: 10, X: 1, Y: 2},
		{Zoom: 10, X: 1, Y: 3},
		{Zoom: 10, X: 1, Y: 4},
	}
	hot := models.TileID{Zoom: 10, X: 9, Y: 9}
	if err := s.InitTiles(ctx, append(quiet, hot)); err != nil {
		t.Fatalf("init: %v", err)
	}
	// The quiet backlog has been waiting longer than the hot tile.
	for _, id := range quiet {
		if err := store.SetNextRun(ctx, id, base.Add(-time.Hour)); err != nil {
			t.Fatalf("set next run: %v", err)
		}
	}
	if err := store.SetNextRun(ctx, hot, base.Add(-30*time.Minute)); err != nil {
		t.Fatalf("set next run: %v", err)
	}
	if err := store.BumpActivity(ctx, hot, 100); err != nil {
		t.Fatalf("bump: %v", err)
	}

	due, err := s.PickDue(ctx, 2)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due tiles, want 2", len(due))
	}
	if due[0].ID != hot {
		t.Errorf("first selection = %s, want the hot tile %s", due[0].ID, hot)
	}
}

// The sync watermark must be the fetch start, not the reschedule time:
// an edit landing while the pipeline ran has to stay inside the next
// changed-since window.
func TestScheduler_WatermarkIsFetchStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	s := NewScheduler(store, testConfig())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	id := models.TileID{Zoom: 10, X: 1, Y: 2}
	if err := s.InitTiles(ctx, []models.TileID{id}); err != nil {
		t.Fatalf("init: %v", err)
	}

	startedAt := base.Add(-10 * time.Minute)
	if err := s.ScheduleNext(ctx, id, true, startedAt); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	states, _ := store.States(ctx, []models.TileID{id})
	if !states[id].LastSync.Equal(startedAt) {
		t.Errorf("watermark = %v, want the fetch start %v", states[id].LastSync, startedAt)
	}
	// The next run is still computed from now, not from the fetch start.
	at, _ := store.NextRun(id)
	if !at.Equal(base.Add(6 * time.Hour)) {
		t.Errorf("next run = %v, want %v", at, base.Add(6*time.Hour))
	}
}

// Re-seeding an already-seeded store must not reset accumulated state.
func TestScheduler_InitTilesIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	s := NewScheduler(store, testConfig())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	id := models.TileID{Zoom: 10, X: 1, Y: 2}
	if err := s.InitTiles(ctx, []models.TileID{id}); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := store.BumpActivity(ctx, id, 7); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if err := store.SetNextRun(ctx, id, base.Add(time.Hour)); err != nil {
		t.Fatalf("set next run: %v", err)
	}

	if err := s.InitTiles(ctx, []models.TileID{id}); err != nil {
		t.Fatalf("second init: %v", err)
	}
	states, _ := store.States(ctx, []models.TileID{id})
	if states[id].Activity != 7 {
		t.Errorf("activity reset to %v by re-init", states[id].Activity)
	}
	at, _ := store.NextRun(id)
	if !at.Equal(base.Add(time.Hour)) {
		t.Errorf("next run reset to %v by re-init", at)
	}
}

func TestScheduler_RecordChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	s := NewScheduler(store, testConfig())

	id := models.TileID{Zoom: 10, X: 1, Y: 2}
	if err := s.RecordChanges(ctx, id, []string{"8811aa", "8811bb", ""}, 3); err != nil {
		t.Fatalf("record: %v", err)
	}

	states, _ := store.States(ctx, []models.TileID{id})
	if states[id].Activity != 3 {
		t.Errorf("tile activity = %v, want 3", states[id].Activity)
	}
	cells, _ := store.TopCells(ctx, 10)
	if len(cells) != 2 {
		t.Fatalf("got %d density cells, want 2 (empty cell id skipped)", len(cells))
	}

	// Zero changes is a no-op.
	if err := s.RecordChanges(ctx, id, nil, 0); err != nil {
		t.Fatalf("record zero: %v", err)
	}
	states, _ = store.States(ctx, []models.TileID{id})
	if states[id].Activity != 3 {
		t.Errorf("zero changes bumped activity to %v", states[id].Activity)
	}
}

func TestMemoryStore_MarkDueNowNeverDelays(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	id := models.TileID{Zoom: 10, X: 1, Y: 2}

	early := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.SetNextRun(ctx, id, early); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.MarkDueNow(ctx, id, late); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if at, _ := store.NextRun(id); !at.Equal(early) {
		t.Errorf("mark-due pushed an earlier slot back to %v", at)
	}

	if err := store.SetNextRun(ctx, id, late.Add(time.Hour)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.MarkDueNow(ctx, id, late); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if at, _ := store.NextRun(id); !at.Equal(late) {
		t.Errorf("mark-due failed to pull a later slot forward, got %v", at)
	}
}
