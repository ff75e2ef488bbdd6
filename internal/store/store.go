// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

// Package store persists canonical venue records. Two implementations exist:
// a Postgres store for production and an in-memory store for local/offline
// runs and tests. The choice is an explicit configuration decision; there is
// no silent runtime fallback between them.
package store

import (
	"context"

	"github.com/placemirror/placemirror/internal/models"
)

// Chunk sizes bound individual request size against the store.
const (
	fetchChunkSize  = 500
	upsertChunkSize = 200
)

// VenueStore is the persistence contract the sync pipeline depends on.
// Upsert conflict resolution is last-writer-wins on all mutable columns,
// keyed on the (source_type, source_id) identity pair.
type VenueStore interface {
	// FetchExisting returns the stored snapshots for the given identities,
	// restricted to the columns the diff engine compares. Missing
	// identities are simply absent from the map.
	FetchExisting(ctx context.Context, ids []models.Identity) (map[models.Identity]models.StoredSnapshot, error)

	// Upsert inserts or updates records in batches.
	Upsert(ctx context.Context, records []models.CanonicalRecord) error

	// TouchUnchanged refreshes the liveness timestamp of records classified
	// unchanged. Best effort: failures are swallowed and must never block
	// the sync pipeline.
	TouchUnchanged(ctx context.Context, ids []models.Identity)

	// Close releases the store's resources.
	Close() error
}

// chunkIdentities splits an identity list into bounded chunks.
func chunkIdentities(ids []models.Identity, size int) [][]models.Identity {
	var chunks [][]models.Identity
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
