// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package diff

import (
	"testing"
	"time"

	"github.com/placemirror/placemirror/internal/models"
)

var id = models.Identity{SourceType: "node", SourceID: 42}

func venue(version int64, editedAt time.Time, hash string) models.ProcessedVenue {
	return models.ProcessedVenue{
		Identity:    id,
		ContentHash: hash,
		Record: models.CanonicalRecord{
			SourceType:  id.SourceType,
			SourceID:    id.SourceID,
			Version:     version,
			EditedAt:    editedAt,
			ContentHash: hash,
		},
	}
}

func snapshot(version int64, editedAt time.Time, hash string) models.StoredSnapshot {
	return models.StoredSnapshot{Identity: id, Version: version, EditedAt: editedAt, ContentHash: hash}
}

func classifySingle(t *testing.T, v models.ProcessedVenue, existing map[models.Identity]models.StoredSnapshot) models.ChangeKind {
	t.Helper()
	out := Classify([]models.ProcessedVenue{v}, existing)
	kind, ok := out[id]
	if !ok {
		t.Fatal("identity missing from classification")
	}
	return kind
}

func TestClassify_Created(t *testing.T) {
	t.Parallel()

	kind := classifySingle(t, venue(1, time.Time{}, "aa"), nil)
	if kind != models.ChangeCreated {
		t.Errorf("kind = %s, want created", kind)
	}
}

func TestClassify_UpdatedByVersion(t *testing.T) {
	t.Parallel()

	existing := map[models.Identity]models.StoredSnapshot{id: snapshot(2, time.Time{}, "aa")}
	kind := classifySingle(t, venue(3, time.Time{}, "aa"), existing)
	if kind != models.ChangeUpdated {
		t.Errorf("kind = %s, want updated", kind)
	}
}

func TestClassify_UpdatedByTimestamp(t *testing.T) {
	t.Parallel()

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	// Versions absent on both sides; timestamps carry the signal.
	existing := map[models.Identity]models.StoredSnapshot{id: snapshot(0, older, "aa")}
	kind := classifySingle(t, venue(0, newer, "aa"), existing)
	if kind != models.ChangeUpdated {
		t.Errorf("kind = %s, want updated", kind)
	}
}

func TestClassify_UpdatedByContentHash(t *testing.T) {
	t.Parallel()

	// No version or timestamp signal on either side; hash is the fallback.
	existing := map[models.Identity]models.StoredSnapshot{id: snapshot(0, time.Time{}, "aa")}
	kind := classifySingle(t, venue(0, time.Time{}, "bb"), existing)
	if kind != models.ChangeUpdated {
		t.Errorf("kind = %s, want updated", kind)
	}
}

func TestClassify_VersionAbsentOnOneSide(t *testing.T) {
	t.Parallel()

	// A zero version on one side is "signal absent", not a difference.
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := map[models.Identity]models.StoredSnapshot{id: snapshot(0, ts, "aa")}
	kind := classifySingle(t, venue(5, ts, "aa"), existing)
	if kind != models.ChangeUnchanged {
		t.Errorf("kind = %s, want unchanged", kind)
	}
}

// Idempotence: a snapshot equal to the freshly transformed record classifies
// unchanged, and re-running with literally the same inputs stays unchanged.
func TestClassify_Idempotent(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v := venue(7, ts, "aa")
	existing := map[models.Identity]models.StoredSnapshot{id: snapshot(7, ts, "aa")}

	for i := 0; i < 2; i++ {
		if kind := classifySingle(t, v, existing); kind != models.ChangeUnchanged {
			t.Fatalf("run %d: kind = %s, want unchanged", i+1, kind)
		}
	}
}

func TestClassify_MixedBatch(t *testing.T) {
	t.Parallel()

	other := models.Identity{SourceType: "way", SourceID: 7}
	batch := []models.ProcessedVenue{
		venue(1, time.Time{}, "aa"),
		{Identity: other, ContentHash: "cc", Record: models.CanonicalRecord{SourceType: other.SourceType, SourceID: other.SourceID, ContentHash: "cc"}},
	}
	existing := map[models.Identity]models.StoredSnapshot{
		id: snapshot(1, time.Time{}, "aa"),
	}

	out := Classify(batch, existing)
	if out[id] != models.ChangeUnchanged {
		t.Errorf("existing venue = %s, want unchanged", out[id])
	}
	if out[other] != models.ChangeCreated {
		t.Errorf("new venue = %s, want created", out[other])
	}
}
