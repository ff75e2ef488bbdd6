// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

/*
venue.go - Core Data Model

Types shared across the sync pipeline:
  - TileID / BBox: tile grid identity and geographic bounds
  - RawElement: untyped upstream element as delivered by the source API
  - CanonicalRecord: normalized place record persisted by the store
  - ProcessedVenue: in-memory unit classified by the diff engine
  - StoredSnapshot: the columns the diff engine reads back from the store
  - Identity: the (source_type, source_id) pair unique per real-world place

A CanonicalRecord is created on first sighting of an identity and updated in
place on later syncs. Records are never deleted here: absence upstream does
not imply deletion.
*/
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TileID identifies a rectangular region of the world at a fixed zoom level
// using the slippy-map convention. It is immutable and serializes to "z/x/y",
// the canonical key used in scheduler state and event payloads.
type TileID struct {
	Zoom int
	X    int
	Y    int
}

// String returns the canonical "z/x/y" form.
func (t TileID) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.X, t.Y)
}

// ParseTileID parses the canonical "z/x/y" form back into a TileID.
func ParseTileID(s string) (TileID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return TileID{}, fmt.Errorf("malformed tile id %q", s)
	}
	vals := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return TileID{}, fmt.Errorf("malformed tile id %q: %w", s, err)
		}
		vals[i] = v
	}
	return TileID{Zoom: vals[0], X: vals[1], Y: vals[2]}, nil
}

// BBox is a geographic bounding box in degrees.
type BBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// LatLon is a geographic point.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RawElement is one element of the upstream JSON envelope. Coordinates are
// pointers because non-point geometries carry only a center and corrupt
// elements may carry nothing; the transformer is the validation boundary.
type RawElement struct {
	ID        int64             `json:"id"`
	Type      string            `json:"type"`
	Lat       *float64          `json:"lat,omitempty"`
	Lon       *float64          `json:"lon,omitempty"`
	Center    *LatLon           `json:"center,omitempty"`
	Version   int64             `json:"version"`
	Timestamp string            `json:"timestamp"`
	Tags      map[string]string `json:"tags"`
}

// Identity is the (source_type, source_id) pair that uniquely names one
// real-world place across sync passes. It is the conflict target for upserts.
type Identity struct {
	SourceType string
	SourceID   int64
}

// Key returns the flat "type:id" form used in event payloads and logs.
func (id Identity) Key() string {
	return fmt.Sprintf("%s:%d", id.SourceType, id.SourceID)
}

// CanonicalRecord is the normalized representation of one real-world place.
type CanonicalRecord struct {
	SourceType  string
	SourceID    int64
	Name        string
	Category    string
	Lat         float64
	Lon         float64
	Hours       string
	Description string
	SpatialCell string
	ContentHash string
	SourceHash  string
	Version     int64
	EditedAt    time.Time // zero when the source omits an edit timestamp
	LastSeenAt  time.Time
	LastSyncAt  time.Time
}

// Identity returns the record's identity key.
func (r *CanonicalRecord) Identity() Identity {
	return Identity{SourceType: r.SourceType, SourceID: r.SourceID}
}

// ProcessedVenue pairs a CanonicalRecord with the classification inputs the
// diff engine needs and the tile it was fetched for.
type ProcessedVenue struct {
	Record      CanonicalRecord
	Identity    Identity
	ContentHash string
	Tile        TileID
	SpatialCell string
}

// StoredSnapshot carries only the columns the diff engine compares against.
type StoredSnapshot struct {
	Identity    Identity
	Version     int64
	EditedAt    time.Time
	ContentHash string
}

// ChangeKind classifies an incoming venue against its stored snapshot.
type ChangeKind string

const (
	ChangeCreated   ChangeKind = "created"
	ChangeUpdated   ChangeKind = "updated"
	ChangeUnchanged ChangeKind = "unchanged"
)
