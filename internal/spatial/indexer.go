// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

// Package spatial assigns hierarchical hexagonal H3 cell identifiers to
// geographic points at a fixed resolution. Cells are used for density
// aggregation and cache-tile lookup, independent of tile boundaries.
package spatial

import (
	"fmt"

	h3 "github.com/uber/h3-go/v4"
)

// DefaultResolution is H3 resolution 8 (~0.74 km^2 hexagons), fine enough to
// aggregate venue density within a city block cluster.
const DefaultResolution = 8

// Indexer computes H3 cell ids at a fixed resolution.
type Indexer struct {
	resolution int
}

// NewIndexer creates an indexer at the given H3 resolution. Resolutions
// outside [0, 15] fall back to DefaultResolution.
func NewIndexer(resolution int) *Indexer {
	if resolution < 0 || resolution > 15 {
		resolution = DefaultResolution
	}
	return &Indexer{resolution: resolution}
}

// Resolution returns the fixed resolution of this indexer.
func (ix *Indexer) Resolution() int {
	return ix.resolution
}

// CellFor returns the H3 cell id string containing the point.
func (ix *Indexer) CellFor(lat, lon float64) (string, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), ix.resolution)
	if err != nil {
		return "", fmt.Errorf("h3 cell for (%v, %v): %w", lat, lon, err)
	}
	return cell.String(), nil
}

// CellCenter maps a cell id string back to its center point. Used by the
// density prewarmer to find the tile containing an activity cell.
func CellCenter(cellID string) (lat, lon float64, err error) {
	cell := h3.Cell(h3.IndexFromString(cellID))
	if !cell.IsValid() {
		return 0, 0, fmt.Errorf("invalid h3 cell id %q", cellID)
	}
	ll, err := h3.CellToLatLng(cell)
	if err != nil {
		return 0, 0, fmt.Errorf("h3 center for %q: %w", cellID, err)
	}
	return ll.Lat, ll.Lng, nil
}
