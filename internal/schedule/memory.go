// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/placemirror/placemirror/internal/models"
)

// MemoryStore is the in-memory Store for local/offline runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	states  map[models.TileID]TileState
	nextRun map[models.TileID]time.Time
	cells   map[string]float64
}

// NewMemoryStore creates an empty in-memory scheduling store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:  make(map[models.TileID]TileState),
		nextRun: make(map[models.TileID]time.Time),
		cells:   make(map[string]float64),
	}
}

// Seeded implements Store.
func (s *MemoryStore) Seeded(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nextRun) > 0, nil
}

// SeedTiles implements Store.
func (s *MemoryStore) SeedTiles(_ context.Context, tiles []models.TileID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range tiles {
		if _, ok := s.nextRun[id]; ok {
			continue
		}
		s.nextRun[id] = now
		s.states[id] = TileState{Priority: defaultPriority}
	}
	return nil
}

// DueTiles implements Store.
func (s *MemoryStore) DueTiles(_ context.Context, now time.Time, limit int64) ([]models.TileID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type due struct {
		id models.TileID
		at time.Time
	}
	var dues []due
	for id, at := range s.nextRun {
		if !at.After(now) {
			dues = append(dues, due{id, at})
		}
	}
	sort.Slice(dues, func(i, j int) bool { return dues[i].at.Before(dues[j].at) })
	if limit > 0 && int64(len(dues)) > limit {
		dues = dues[:limit]
	}
	out := make([]models.TileID, len(dues))
	for i, d := range dues {
		out[i] = d.id
	}
	return out, nil
}

// States implements Store.
func (s *MemoryStore) States(_ context.Context, ids []models.TileID) (map[models.TileID]TileState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.TileID]TileState, len(ids))
	for _, id := range ids {
		if st, ok := s.states[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

// SetNextRun implements Store.
func (s *MemoryStore) SetNextRun(_ context.Context, id models.TileID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRun[id] = at
	return nil
}

// MarkSynced implements Store.
func (s *MemoryStore) MarkSynced(_ context.Context, id models.TileID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[id]
	st.LastSync = at
	s.states[id] = st
	return nil
}

// BumpActivity implements Store.
func (s *MemoryStore) BumpActivity(_ context.Context, id models.TileID, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[id]
	st.Activity += delta
	s.states[id] = st
	return nil
}

// MarkDueNow implements Store.
func (s *MemoryStore) MarkDueNow(_ context.Context, id models.TileID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at, ok := s.nextRun[id]; ok && at.Before(now) {
		return nil
	}
	s.nextRun[id] = now
	return nil
}

// BumpCellActivity implements Store.
func (s *MemoryStore) BumpCellActivity(_ context.Context, cell string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[cell] += delta
	return nil
}

// TopCells implements Store.
func (s *MemoryStore) TopCells(_ context.Context, k int) ([]CellScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CellScore, 0, len(s.cells))
	for c, score := range s.cells {
		out = append(out, CellScore{Cell: c, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Cell < out[j].Cell
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// NextRun returns a tile's scheduled next-run time, for tests.
func (s *MemoryStore) NextRun(id models.TileID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.nextRun[id]
	return at, ok
}
