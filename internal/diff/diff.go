// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

// Package diff classifies transformed venues against the store's existing
// snapshots as created, updated, or unchanged.
//
// Signal priority for "updated": upstream version number, then upstream edit
// timestamp, then content hash. Version and timestamp are cheap authoritative
// signals when present; the content hash is the fallback for sources that
// omit them. Classification is idempotent: the same unchanged input always
// yields unchanged.
package diff

import (
	"github.com/placemirror/placemirror/internal/models"
)

// Classify maps each incoming venue's identity to its change kind given the
// existing stored snapshots.
func Classify(incoming []models.ProcessedVenue, existing map[models.Identity]models.StoredSnapshot) map[models.Identity]models.ChangeKind {
	out := make(map[models.Identity]models.ChangeKind, len(incoming))
	for i := range incoming {
		v := &incoming[i]
		snap, ok := existing[v.Identity]
		if !ok {
			out[v.Identity] = models.ChangeCreated
			continue
		}
		out[v.Identity] = classifyOne(v, snap)
	}
	return out
}

func classifyOne(v *models.ProcessedVenue, snap models.StoredSnapshot) models.ChangeKind {
	if v.Record.Version != 0 && snap.Version != 0 && v.Record.Version != snap.Version {
		return models.ChangeUpdated
	}
	if !v.Record.EditedAt.IsZero() && !snap.EditedAt.IsZero() && !v.Record.EditedAt.Equal(snap.EditedAt) {
		return models.ChangeUpdated
	}
	if v.ContentHash != snap.ContentHash {
		return models.ChangeUpdated
	}
	return models.ChangeUnchanged
}
