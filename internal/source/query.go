// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package source

import (
	"fmt"
	"strings"
	"time"

	"github.com/placemirror/placemirror/internal/models"
	"github.com/placemirror/placemirror/internal/transform"
)

// queryTimeoutSeconds is the server-side evaluation budget declared in the
// query header, separate from the client HTTP timeout.
const queryTimeoutSeconds = 25

// BuildQuery renders the upstream query: one node and one way statement per
// tag filter, restricted to the bbox and, when a watermark is given, to
// elements changed since it. "out center" makes non-point geometries carry a
// center coordinate; "meta" includes version and edit timestamp.
func BuildQuery(filters []transform.TagFilter, bbox models.BBox, changedSince *time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n(\n", queryTimeoutSeconds)

	newer := ""
	if changedSince != nil {
		newer = fmt.Sprintf(`(newer:"%s")`, changedSince.UTC().Format(time.RFC3339))
	}
	box := fmt.Sprintf("(%g,%g,%g,%g)", bbox.South, bbox.West, bbox.North, bbox.East)

	for _, f := range filters {
		match := fmt.Sprintf(`["%s"~"^(%s)$"]`, f.Key, strings.Join(f.Values, "|"))
		fmt.Fprintf(&b, "  node%s%s%s;\n", match, newer, box)
		fmt.Fprintf(&b, "  way%s%s%s;\n", match, newer, box)
	}

	b.WriteString(");\nout center meta;\n")
	return b.String()
}
