// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

// Package events publishes change and invalidation events to bounded,
// trimmed append-only streams for downstream consumers (caches, search
// index, notification fan-out).
//
// Streams are capped: after every append the stream is trimmed to a fixed
// maximum length (approximate trim is acceptable) so a stalled or absent
// consumer cannot cause unbounded growth. Events are never updated after
// publish, and publishing is best effort from the pipeline's perspective.
package events

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/placemirror/placemirror/internal/models"
)

// Stream names.
const (
	StreamCreated    = "venues:created"
	StreamUpdated    = "venues:updated"
	StreamInvalidate = "tiles:invalidate"
)

// DefaultMaxStreamLen caps each stream when no explicit bound is configured.
const DefaultMaxStreamLen = 10000

// Bus is the append-only stream contract. Implementations must be safe for
// concurrent use from multiple tile workers and must never interleave the
// entries of one PublishBatch call with another's.
type Bus interface {
	// Publish appends one event to the named stream and trims the stream
	// to its bound.
	Publish(ctx context.Context, stream string, fields map[string]string) error

	// PublishBatch appends events in order as one operation, then trims.
	PublishBatch(ctx context.Context, stream string, batch []map[string]string) error

	// Close releases the bus's resources.
	Close() error
}

// VenueEvent builds a created/updated event payload. Field values are flat
// strings per the stream schema.
func VenueEvent(kind models.ChangeKind, id models.Identity, cell string, tileID models.TileID) map[string]string {
	return map[string]string{
		"type":         string(kind),
		"identity":     id.Key(),
		"spatial_cell": cell,
		"tile":         tileID.String(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
}

// InvalidateEvent builds a tile-level invalidation payload carrying the
// tile's bbox so a cache layer can rebuild exactly the affected tile.
func InvalidateEvent(tileID models.TileID, bbox models.BBox) map[string]string {
	// The bbox is the only structured field; it is JSON-encoded to keep
	// the payload flat.
	encoded, _ := json.Marshal(bbox) //nolint:errcheck // struct of floats cannot fail
	return map[string]string{
		"type":      "invalidate_tile",
		"tile":      tileID.String(),
		"bbox":      string(encoded),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}
