// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package events

import (
	"context"
	"fmt"
	"testing"

	"github.com/placemirror/placemirror/internal/models"
)

// Stream boundedness: publishing past the bound never grows the stream
// beyond it, and the newest entries survive.
func TestMemoryBus_StreamIsBounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewMemoryBus(10)

	for i := 0; i < 35; i++ {
		err := b.Publish(ctx, StreamCreated, map[string]string{"seq": fmt.Sprintf("%d", i)})
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		if got := b.Len(StreamCreated); got > 10 {
			t.Fatalf("stream grew to %d entries, bound is 10", got)
		}
	}

	entries := b.Entries(StreamCreated)
	if len(entries) != 10 {
		t.Fatalf("stream holds %d entries, want 10", len(entries))
	}
	if entries[len(entries)-1]["seq"] != "34" {
		t.Errorf("newest entry seq = %s, want 34", entries[len(entries)-1]["seq"])
	}
	if entries[0]["seq"] != "25" {
		t.Errorf("oldest surviving entry seq = %s, want 25", entries[0]["seq"])
	}
}

func TestMemoryBus_PublishBatchKeepsOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewMemoryBus(100)

	batch := []map[string]string{
		{"seq": "0"}, {"seq": "1"}, {"seq": "2"},
	}
	if err := b.PublishBatch(ctx, StreamUpdated, batch); err != nil {
		t.Fatalf("publish batch: %v", err)
	}

	entries := b.Entries(StreamUpdated)
	for i, e := range entries {
		if e["seq"] != fmt.Sprintf("%d", i) {
			t.Errorf("entry %d has seq %s", i, e["seq"])
		}
	}
}

func TestVenueEvent(t *testing.T) {
	t.Parallel()

	id := models.Identity{SourceType: "node", SourceID: 42}
	tileID := models.TileID{Zoom: 10, X: 100, Y: 200}

	e := VenueEvent(models.ChangeCreated, id, "8811aa", tileID)
	if e["type"] != "created" {
		t.Errorf("type = %s", e["type"])
	}
	if e["identity"] != "node:42" {
		t.Errorf("identity = %s", e["identity"])
	}
	if e["tile"] != "10/100/200" {
		t.Errorf("tile = %s", e["tile"])
	}
	if e["spatial_cell"] != "8811aa" {
		t.Errorf("spatial_cell = %s", e["spatial_cell"])
	}
	if e["timestamp"] == "" {
		t.Error("timestamp missing")
	}
}

func TestInvalidateEvent(t *testing.T) {
	t.Parallel()

	tileID := models.TileID{Zoom: 10, X: 100, Y: 200}
	bbox := models.BBox{South: 1, West: 2, North: 3, East: 4}

	e := InvalidateEvent(tileID, bbox)
	if e["type"] != "invalidate_tile" {
		t.Errorf("type = %s", e["type"])
	}
	if e["tile"] != "10/100/200" {
		t.Errorf("tile = %s", e["tile"])
	}
	// The bbox field is JSON so cache layers can rebuild the exact region.
	want := `{"south":1,"west":2,"north":3,"east":4}`
	if e["bbox"] != want {
		t.Errorf("bbox = %s, want %s", e["bbox"], want)
	}
}
