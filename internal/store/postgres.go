// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

/*
postgres.go - Postgres Venue Store

Batched reads and writes against a single venues table. The upsert targets
the UNIQUE (source_type, source_id) constraint and overwrites all mutable
columns on conflict; callers supply every column on every upsert (no partial
updates). Lookups and writes are chunked to bound request size.
*/
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/placemirror/placemirror/internal/logging"
	"github.com/placemirror/placemirror/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS venues (
    id            BIGSERIAL PRIMARY KEY,
    source_type   TEXT NOT NULL,
    source_id     BIGINT NOT NULL,
    name          TEXT NOT NULL,
    category      TEXT NOT NULL DEFAULT 'Uncategorized',
    lat           DOUBLE PRECISION NOT NULL,
    lon           DOUBLE PRECISION NOT NULL,
    hours         TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    spatial_cell  TEXT NOT NULL DEFAULT '',
    content_hash  TEXT NOT NULL DEFAULT '',
    source_hash   TEXT NOT NULL DEFAULT '',
    version       BIGINT NOT NULL DEFAULT 0,
    edited_at     TIMESTAMPTZ,
    last_seen_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_sync_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (source_type, source_id)
);
CREATE INDEX IF NOT EXISTS venues_spatial_cell_idx ON venues (spatial_cell);
CREATE INDEX IF NOT EXISTS venues_category_idx ON venues (category);
`

// PostgresStore implements VenueStore against Postgres.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to Postgres and configures the connection pool.
func Open(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the venues table and indexes if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// FetchExisting looks up snapshots for the identity set in fixed-size chunks.
func (s *PostgresStore) FetchExisting(ctx context.Context, ids []models.Identity) (map[models.Identity]models.StoredSnapshot, error) {
	out := make(map[models.Identity]models.StoredSnapshot, len(ids))
	for _, chunk := range chunkIdentities(ids, fetchChunkSize) {
		if err := s.fetchChunk(ctx, chunk, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) fetchChunk(ctx context.Context, ids []models.Identity, out map[models.Identity]models.StoredSnapshot) error {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)*2)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2)
		args = append(args, id.SourceType, id.SourceID)
	}

	query := fmt.Sprintf(
		`SELECT source_type, source_id, version, edited_at, content_hash
		 FROM venues WHERE (source_type, source_id) IN (%s)`,
		strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("fetch existing venues: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var snap models.StoredSnapshot
		var editedAt sql.NullTime
		if err := rows.Scan(&snap.Identity.SourceType, &snap.Identity.SourceID, &snap.Version, &editedAt, &snap.ContentHash); err != nil {
			return fmt.Errorf("scan venue snapshot: %w", err)
		}
		if editedAt.Valid {
			snap.EditedAt = editedAt.Time.UTC()
		}
		out[snap.Identity] = snap
	}
	return rows.Err()
}

// Upsert writes records in chunks; conflict on the identity pair overwrites
// all mutable columns with the incoming values.
func (s *PostgresStore) Upsert(ctx context.Context, records []models.CanonicalRecord) error {
	for len(records) > 0 {
		n := len(records)
		if n > upsertChunkSize {
			n = upsertChunkSize
		}
		if err := s.upsertChunk(ctx, records[:n]); err != nil {
			return err
		}
		records = records[n:]
	}
	return nil
}

func (s *PostgresStore) upsertChunk(ctx context.Context, records []models.CanonicalRecord) error {
	const cols = 15
	valueRows := make([]string, len(records))
	args := make([]interface{}, 0, len(records)*cols)

	for i := range records {
		r := &records[i]
		base := i * cols
		ph := make([]string, cols)
		for j := 0; j < cols; j++ {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueRows[i] = "(" + strings.Join(ph, ",") + ")"

		var editedAt interface{}
		if !r.EditedAt.IsZero() {
			editedAt = r.EditedAt
		}
		args = append(args,
			r.SourceType, r.SourceID, r.Name, r.Category, r.Lat, r.Lon,
			r.Hours, r.Description, r.SpatialCell, r.ContentHash, r.SourceHash,
			r.Version, editedAt, r.LastSeenAt, r.LastSyncAt)
	}

	query := fmt.Sprintf(`INSERT INTO venues
		(source_type, source_id, name, category, lat, lon, hours, description,
		 spatial_cell, content_hash, source_hash, version, edited_at, last_seen_at, last_sync_at)
		VALUES %s
		ON CONFLICT (source_type, source_id) DO UPDATE SET
		 name=EXCLUDED.name, category=EXCLUDED.category,
		 lat=EXCLUDED.lat, lon=EXCLUDED.lon,
		 hours=EXCLUDED.hours, description=EXCLUDED.description,
		 spatial_cell=EXCLUDED.spatial_cell, content_hash=EXCLUDED.content_hash,
		 source_hash=EXCLUDED.source_hash, version=EXCLUDED.version,
		 edited_at=EXCLUDED.edited_at, last_seen_at=EXCLUDED.last_seen_at,
		 last_sync_at=EXCLUDED.last_sync_at`,
		strings.Join(valueRows, ","))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %d venues: %w", len(records), err)
	}
	return nil
}

// TouchUnchanged refreshes last_seen_at for the given identities. Errors are
// logged at debug level and swallowed.
func (s *PostgresStore) TouchUnchanged(ctx context.Context, ids []models.Identity) {
	for _, chunk := range chunkIdentities(ids, fetchChunkSize) {
		placeholders := make([]string, len(chunk))
		args := make([]interface{}, 0, len(chunk)*2)
		for i, id := range chunk {
			placeholders[i] = fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2)
			args = append(args, id.SourceType, id.SourceID)
		}
		query := fmt.Sprintf(
			`UPDATE venues SET last_seen_at=now() WHERE (source_type, source_id) IN (%s)`,
			strings.Join(placeholders, ","))
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			logging.Debug().Err(err).Int("count", len(chunk)).Msg("touch unchanged failed")
		}
	}
}
