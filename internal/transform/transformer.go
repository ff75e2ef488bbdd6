// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

/*
transformer.go - Raw Element Normalization

Converts raw upstream elements into canonical venue records:
  - validation gate: usable coordinate, non-empty display name (with tag
    fallbacks), name length ceiling against corrupt upstream data
  - category assignment via a fixed ordered tag lookup table, first match
    wins, default "Uncategorized"
  - spatial cell assignment at a fixed H3 resolution
  - content hash over a normalized projection of the record; coordinates are
    rounded to 6 decimals so upstream floating-point jitter does not trigger
    spurious "updated" classifications

Malformed elements are dropped silently and counted in aggregate (never
logged per element; at country scale that floods the logs).
*/
package transform

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/placemirror/placemirror/internal/metrics"
	"github.com/placemirror/placemirror/internal/models"
	"github.com/placemirror/placemirror/internal/spatial"
)

// DefaultMaxNameLength caps display names; anything longer is treated as
// corrupt upstream data.
const DefaultMaxNameLength = 200

// descriptionHashPrefix bounds how much of the description participates in
// the content hash.
const descriptionHashPrefix = 160

// nameTagOrder lists display-name tags in priority order.
var nameTagOrder = []string{"name", "name:en", "short_name", "brand", "operator"}

// categoryRule maps values of one tag key to categories. Rules are evaluated
// in table order; the first matching key+value wins.
type categoryRule struct {
	key    string
	values map[string]string
}

var categoryTable = []categoryRule{
	{key: "amenity", values: map[string]string{
		"cafe":        "Cafe",
		"restaurant":  "Restaurant",
		"bar":         "Bar",
		"pub":         "Bar",
		"fast_food":   "Fast Food",
		"food_court":  "Fast Food",
		"ice_cream":   "Dessert",
		"marketplace": "Market",
	}},
	{key: "shop", values: map[string]string{
		"bakery":      "Bakery",
		"coffee":      "Cafe",
		"convenience": "Shop",
		"supermarket": "Shop",
		"deli":        "Shop",
	}},
	{key: "tourism", values: map[string]string{
		"hotel":      "Hotel",
		"guest_house": "Hotel",
		"hostel":     "Hotel",
		"attraction": "Attraction",
		"museum":     "Attraction",
	}},
	{key: "leisure", values: map[string]string{
		"park":           "Park",
		"garden":         "Park",
		"fitness_centre": "Fitness",
		"sports_centre":  "Fitness",
	}},
}

// DefaultCategory is assigned when no table rule matches.
const DefaultCategory = "Uncategorized"

// TagFilter is one tag key with the values the mirror cares about, used to
// build upstream queries from the same table that drives categorization.
type TagFilter struct {
	Key    string
	Values []string
}

// QueryFilters returns the category table as ordered tag filters with
// deterministically sorted values.
func QueryFilters() []TagFilter {
	filters := make([]TagFilter, 0, len(categoryTable))
	for _, rule := range categoryTable {
		values := make([]string, 0, len(rule.values))
		for v := range rule.values {
			values = append(values, v)
		}
		sort.Strings(values)
		filters = append(filters, TagFilter{Key: rule.key, Values: values})
	}
	return filters
}

// DropCounts aggregates rejected elements by reason.
type DropCounts struct {
	NoCoordinates int64
	NoName        int64
	NameTooLong   int64
}

// Total returns the sum of all drop reasons.
func (d DropCounts) Total() int64 {
	return d.NoCoordinates + d.NoName + d.NameTooLong
}

// Transformer converts raw upstream elements into ProcessedVenues.
// Safe for concurrent use from multiple tile workers.
type Transformer struct {
	indexer    *spatial.Indexer
	maxNameLen int

	droppedNoCoord  atomic.Int64
	droppedNoName   atomic.Int64
	droppedLongName atomic.Int64
}

// New creates a Transformer. maxNameLen <= 0 selects DefaultMaxNameLength.
func New(indexer *spatial.Indexer, maxNameLen int) *Transformer {
	if maxNameLen <= 0 {
		maxNameLen = DefaultMaxNameLength
	}
	return &Transformer{indexer: indexer, maxNameLen: maxNameLen}
}

// Transform converts one raw element fetched for the given tile. The second
// return value is false when the element fails the quality gate; rejections
// are counted in aggregate, not logged.
func (t *Transformer) Transform(el models.RawElement, tileID models.TileID) (*models.ProcessedVenue, bool) {
	lat, lon, ok := coordinates(el)
	if !ok {
		t.droppedNoCoord.Add(1)
		metrics.ElementsDropped.WithLabelValues("no_coordinates").Inc()
		return nil, false
	}

	name := displayName(el.Tags)
	if name == "" {
		t.droppedNoName.Add(1)
		metrics.ElementsDropped.WithLabelValues("no_name").Inc()
		return nil, false
	}
	if len(name) > t.maxNameLen {
		t.droppedLongName.Add(1)
		metrics.ElementsDropped.WithLabelValues("name_too_long").Inc()
		return nil, false
	}

	category := categorize(el.Tags)
	hours := el.Tags["opening_hours"]
	description := el.Tags["description"]

	cell, err := t.indexer.CellFor(lat, lon)
	if err != nil {
		// Degenerate coordinates that H3 rejects fail the same gate as
		// missing ones.
		t.droppedNoCoord.Add(1)
		metrics.ElementsDropped.WithLabelValues("no_coordinates").Inc()
		return nil, false
	}

	contentHash := ContentHash(name, category, lat, lon, hours, description)
	now := time.Now().UTC()

	record := models.CanonicalRecord{
		SourceType:  el.Type,
		SourceID:    el.ID,
		Name:        name,
		Category:    category,
		Lat:         lat,
		Lon:         lon,
		Hours:       hours,
		Description: description,
		SpatialCell: cell,
		ContentHash: contentHash,
		SourceHash:  sourceHash(el),
		Version:     el.Version,
		EditedAt:    parseEditTimestamp(el.Timestamp),
		LastSeenAt:  now,
		LastSyncAt:  now,
	}

	return &models.ProcessedVenue{
		Record:      record,
		Identity:    record.Identity(),
		ContentHash: contentHash,
		Tile:        tileID,
		SpatialCell: cell,
	}, true
}

// Dropped returns the aggregate rejection counts since construction.
func (t *Transformer) Dropped() DropCounts {
	return DropCounts{
		NoCoordinates: t.droppedNoCoord.Load(),
		NoName:        t.droppedNoName.Load(),
		NameTooLong:   t.droppedLongName.Load(),
	}
}

// coordinates extracts the element's point, preferring direct lat/lon and
// falling back to the center of non-point geometries.
func coordinates(el models.RawElement) (lat, lon float64, ok bool) {
	if el.Lat != nil && el.Lon != nil {
		return *el.Lat, *el.Lon, true
	}
	if el.Center != nil {
		return el.Center.Lat, el.Center.Lon, true
	}
	return 0, 0, false
}

// displayName tries the name tags in priority order.
func displayName(tags map[string]string) string {
	for _, key := range nameTagOrder {
		if v := tags[key]; v != "" {
			return v
		}
	}
	return ""
}

// categorize walks the fixed category table in order; first match wins.
func categorize(tags map[string]string) string {
	for _, rule := range categoryTable {
		if v, ok := tags[rule.key]; ok {
			if cat, ok := rule.values[v]; ok {
				return cat
			}
		}
	}
	return DefaultCategory
}

// ContentHash computes the stable content hash over the semantically
// meaningful fields of a record. Coordinates are rounded to 6 decimals
// (~11 cm) to absorb re-geocoding jitter.
func ContentHash(name, category string, lat, lon float64, hours, description string) string {
	if len(description) > descriptionHashPrefix {
		description = description[:descriptionHashPrefix]
	}
	projection := fmt.Sprintf("%s|%s|%.6f|%.6f|%s|%s", name, category, lat, lon, hours, description)
	return fmt.Sprintf("%016x", xxhash.Sum64String(projection))
}

// sourceHash is a short fingerprint of the upstream element identity and
// version, kept on the record for provenance.
func sourceHash(el models.RawElement) string {
	sum := xxhash.Sum64String(fmt.Sprintf("%s/%d@%d", el.Type, el.ID, el.Version))
	return fmt.Sprintf("%08x", uint32(sum))
}

// parseEditTimestamp parses the upstream edit timestamp; a missing or
// malformed value yields the zero time, which the diff engine treats as
// "signal absent".
func parseEditTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
