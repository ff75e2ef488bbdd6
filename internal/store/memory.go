// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package store

import (
	"context"
	"sync"
	"time"

	"github.com/placemirror/placemirror/internal/models"
)

// MemoryStore is the in-memory VenueStore used for local/offline runs and
// tests. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[models.Identity]models.CanonicalRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[models.Identity]models.CanonicalRecord)}
}

// FetchExisting implements VenueStore.
func (s *MemoryStore) FetchExisting(_ context.Context, ids []models.Identity) (map[models.Identity]models.StoredSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.Identity]models.StoredSnapshot, len(ids))
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out[id] = models.StoredSnapshot{
				Identity:    id,
				Version:     r.Version,
				EditedAt:    r.EditedAt,
				ContentHash: r.ContentHash,
			}
		}
	}
	return out, nil
}

// Upsert implements VenueStore; last writer wins on all columns.
func (s *MemoryStore) Upsert(_ context.Context, records []models.CanonicalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range records {
		s.records[records[i].Identity()] = records[i]
	}
	return nil
}

// TouchUnchanged implements VenueStore.
func (s *MemoryStore) TouchUnchanged(_ context.Context, ids []models.Identity) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			r.LastSeenAt = now
			s.records[id] = r
		}
	}
}

// Close implements VenueStore.
func (s *MemoryStore) Close() error {
	return nil
}

// Get returns the stored record for an identity, for assertions in tests.
func (s *MemoryStore) Get(id models.Identity) (models.CanonicalRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
