// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

// Package tile implements slippy-map tile grid math: mapping geographic
// coordinates to integer tile coordinates at a fixed zoom level, the exact
// inverse back to a tile's bounding box, and enumeration of the tile range
// covering a region. All functions are pure and stateless.
//
// Out-of-range latitudes produce clamped, non-crashing results; callers are
// responsible for passing valid geographic bounds.
package tile

import (
	"math"

	"github.com/placemirror/placemirror/internal/models"
)

// TileFor maps a geographic point to tile coordinates at the given zoom,
// using the standard slippy-map (Web Mercator) projection.
func TileFor(lat, lon float64, zoom int) (x, y int) {
	n := float64(int(1) << uint(zoom))

	x = int(math.Floor((lon + 180.0) / 360.0 * n))

	latRad := lat * math.Pi / 180.0
	y = int(math.Floor((1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * n))

	max := (1 << uint(zoom)) - 1
	if x < 0 {
		x = 0
	} else if x > max {
		x = max
	}
	if y < 0 {
		y = 0
	} else if y > max {
		y = max
	}
	return x, y
}

// BBoxFor returns the exact geographic bounds of a tile.
func BBoxFor(t models.TileID) models.BBox {
	n := float64(int(1) << uint(t.Zoom))
	return models.BBox{
		West:  float64(t.X)/n*360.0 - 180.0,
		East:  float64(t.X+1)/n*360.0 - 180.0,
		North: tileEdgeLat(float64(t.Y), n),
		South: tileEdgeLat(float64(t.Y+1), n),
	}
}

// tileEdgeLat converts a fractional tile row to the latitude of its top edge.
func tileEdgeLat(y, n float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1.0-2.0*y/n))) * 180.0 / math.Pi
}

// Center returns the geographic center point of a tile.
func Center(t models.TileID) models.LatLon {
	b := BBoxFor(t)
	return models.LatLon{Lat: (b.South + b.North) / 2.0, Lon: (b.West + b.East) / 2.0}
}

// TilesCovering enumerates the rectangular tile range covering a bounding box
// at the given zoom. Used once at startup to generate the fixed tile set for
// a target region.
func TilesCovering(b models.BBox, zoom int) []models.TileID {
	minX, minY := TileFor(b.North, b.West, zoom)
	maxX, maxY := TileFor(b.South, b.East, zoom)

	tiles := make([]models.TileID, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, models.TileID{Zoom: zoom, X: x, Y: y})
		}
	}
	return tiles
}
