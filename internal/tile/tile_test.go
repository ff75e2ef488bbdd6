// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package tile

import (
	"testing"

	"github.com/placemirror/placemirror/internal/models"
)

func TestTileFor_KnownPoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lat, lon float64
		zoom     int
		x, y     int
	}{
		{"null island z0", 0, 0, 0, 0, 0},
		{"null island z1", 0, 0, 1, 1, 1},
		{"tallinn z10", 59.437, 24.7536, 10, 582, 300},
		{"west edge", 0, -180, 4, 0, 8},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			x, y := TileFor(tt.lat, tt.lon, tt.zoom)
			if x != tt.x || y != tt.y {
				t.Errorf("TileFor(%v, %v, %d) = (%d, %d), want (%d, %d)",
					tt.lat, tt.lon, tt.zoom, x, y, tt.x, tt.y)
			}
		})
	}
}

// Round-trip property: the center of any tile's bbox maps back to that tile.
func TestTileRoundTrip(t *testing.T) {
	t.Parallel()

	for _, zoom := range []int{1, 5, 10, 14} {
		n := 1 << uint(zoom)
		// Sample a spread of tiles rather than the full grid.
		step := n / 8
		if step == 0 {
			step = 1
		}
		for x := 0; x < n; x += step {
			for y := 0; y < n; y += step {
				id := models.TileID{Zoom: zoom, X: x, Y: y}
				c := Center(id)
				gotX, gotY := TileFor(c.Lat, c.Lon, zoom)
				if gotX != x || gotY != y {
					t.Fatalf("round trip failed for %s: center (%v, %v) -> (%d, %d)",
						id, c.Lat, c.Lon, gotX, gotY)
				}
			}
		}
	}
}

func TestBBoxFor_EdgesAreShared(t *testing.T) {
	t.Parallel()

	a := BBoxFor(models.TileID{Zoom: 10, X: 100, Y: 200})
	b := BBoxFor(models.TileID{Zoom: 10, X: 101, Y: 200})
	if a.East != b.West {
		t.Errorf("adjacent tiles do not share an edge: east=%v west=%v", a.East, b.West)
	}

	c := BBoxFor(models.TileID{Zoom: 10, X: 100, Y: 201})
	if a.South != c.North {
		t.Errorf("vertically adjacent tiles do not share an edge: south=%v north=%v", a.South, c.North)
	}
	if a.South >= a.North {
		t.Errorf("degenerate bbox: %+v", a)
	}
}

func TestTilesCovering(t *testing.T) {
	t.Parallel()

	// A single tile's own bbox (shrunk slightly inward) covers exactly itself.
	id := models.TileID{Zoom: 12, X: 2330, Y: 1180}
	b := BBoxFor(id)
	eps := 1e-9
	inner := models.BBox{South: b.South + eps, West: b.West + eps, North: b.North - eps, East: b.East - eps}

	tiles := TilesCovering(inner, 12)
	if len(tiles) != 1 || tiles[0] != id {
		t.Fatalf("TilesCovering(inner bbox) = %v, want [%s]", tiles, id)
	}

	// A bbox spanning a 2x2 block yields 4 tiles.
	b2 := BBoxFor(models.TileID{Zoom: 12, X: 2331, Y: 1181})
	span := models.BBox{South: b2.South + eps, West: b.West + eps, North: b.North - eps, East: b2.East - eps}
	if got := len(TilesCovering(span, 12)); got != 4 {
		t.Errorf("TilesCovering(2x2 span) = %d tiles, want 4", got)
	}
}

func TestTileIDString(t *testing.T) {
	t.Parallel()

	id := models.TileID{Zoom: 10, X: 100, Y: 200}
	if id.String() != "10/100/200" {
		t.Errorf("String() = %q, want %q", id.String(), "10/100/200")
	}

	parsed, err := models.ParseTileID("10/100/200")
	if err != nil {
		t.Fatalf("ParseTileID: %v", err)
	}
	if parsed != id {
		t.Errorf("ParseTileID round trip = %+v, want %+v", parsed, id)
	}

	if _, err := models.ParseTileID("10/abc/200"); err == nil {
		t.Error("expected error for malformed tile id")
	}
}
