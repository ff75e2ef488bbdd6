// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package schedule

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/placemirror/placemirror/internal/models"
)

// Redis key layout. Due times live in one sorted set scored by next-run
// unix time; per-tile fields live in a hash per tile; cell density is a
// second sorted set scored by accumulated activity.
const (
	dueKey         = "sched:due"
	tileKeyPrefix  = "sched:tile:"
	cellDensityKey = "activity:cells"

	defaultPriority = 1.0
)

// RedisStore implements Store on Redis. State survives restarts, and the
// sorted-set layout makes "give me what is due" a single ZRANGEBYSCORE.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func tileKey(id models.TileID) string {
	return tileKeyPrefix + id.String()
}

// Seeded implements Store.
func (s *RedisStore) Seeded(ctx context.Context) (bool, error) {
	n, err := s.rdb.ZCard(ctx, dueKey).Result()
	if err != nil {
		return false, fmt.Errorf("zcard %s: %w", dueKey, err)
	}
	return n > 0, nil
}

// SeedTiles implements Store. NX on both the due member and the priority
// field keeps existing state across re-seeds.
func (s *RedisStore) SeedTiles(ctx context.Context, tiles []models.TileID, now time.Time) error {
	pipe := s.rdb.Pipeline()
	score := float64(now.Unix())
	for _, id := range tiles {
		pipe.ZAddNX(ctx, dueKey, redis.Z{Score: score, Member: id.String()})
		pipe.HSetNX(ctx, tileKey(id), "priority", defaultPriority)
		pipe.HSetNX(ctx, tileKey(id), "activity", 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("seed %d tiles: %w", len(tiles), err)
	}
	return nil
}

// DueTiles implements Store.
func (s *RedisStore) DueTiles(ctx context.Context, now time.Time, limit int64) ([]models.TileID, error) {
	rangeBy := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}
	if limit > 0 {
		rangeBy.Count = limit
	}
	members, err := s.rdb.ZRangeByScore(ctx, dueKey, rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", dueKey, err)
	}
	out := make([]models.TileID, 0, len(members))
	for _, m := range members {
		id, err := models.ParseTileID(m)
		if err != nil {
			// A corrupt member is skipped rather than wedging the run.
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// States implements Store.
func (s *RedisStore) States(ctx context.Context, ids []models.TileID) (map[models.TileID]TileState, error) {
	if len(ids) == 0 {
		return map[models.TileID]TileState{}, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, tileKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("fetch %d tile states: %w", len(ids), err)
	}
	out := make(map[models.TileID]TileState, len(ids))
	for i, id := range ids {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		out[id] = stateFromFields(fields)
	}
	return out, nil
}

func stateFromFields(fields map[string]string) TileState {
	st := TileState{}
	if v, err := strconv.ParseFloat(fields["priority"], 64); err == nil {
		st.Priority = v
	}
	if v, err := strconv.ParseFloat(fields["activity"], 64); err == nil {
		st.Activity = v
	}
	if v, err := strconv.ParseInt(fields["last_sync"], 10, 64); err == nil && v > 0 {
		st.LastSync = time.Unix(v, 0).UTC()
	}
	return st
}

// SetNextRun implements Store.
func (s *RedisStore) SetNextRun(ctx context.Context, id models.TileID, at time.Time) error {
	err := s.rdb.ZAdd(ctx, dueKey, redis.Z{Score: float64(at.Unix()), Member: id.String()}).Err()
	if err != nil {
		return fmt.Errorf("set next run for %s: %w", id, err)
	}
	return nil
}

// MarkSynced implements Store.
func (s *RedisStore) MarkSynced(ctx context.Context, id models.TileID, at time.Time) error {
	if err := s.rdb.HSet(ctx, tileKey(id), "last_sync", at.Unix()).Err(); err != nil {
		return fmt.Errorf("mark %s synced: %w", id, err)
	}
	return nil
}

// BumpActivity implements Store.
func (s *RedisStore) BumpActivity(ctx context.Context, id models.TileID, delta float64) error {
	if err := s.rdb.HIncrByFloat(ctx, tileKey(id), "activity", delta).Err(); err != nil {
		return fmt.Errorf("bump activity for %s: %w", id, err)
	}
	return nil
}

// MarkDueNow implements Store. ZADD LT only lowers the score, so a tile
// already due sooner keeps its earlier slot.
func (s *RedisStore) MarkDueNow(ctx context.Context, id models.TileID, now time.Time) error {
	err := s.rdb.ZAddLT(ctx, dueKey, redis.Z{Score: float64(now.Unix()), Member: id.String()}).Err()
	if err != nil {
		return fmt.Errorf("mark %s due: %w", id, err)
	}
	return nil
}

// BumpCellActivity implements Store.
func (s *RedisStore) BumpCellActivity(ctx context.Context, cell string, delta float64) error {
	if err := s.rdb.ZIncrBy(ctx, cellDensityKey, delta, cell).Err(); err != nil {
		return fmt.Errorf("bump cell %s: %w", cell, err)
	}
	return nil
}

// TopCells implements Store.
func (s *RedisStore) TopCells(ctx context.Context, k int) ([]CellScore, error) {
	if k <= 0 {
		return nil, nil
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, cellDensityKey, 0, int64(k-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("top %d cells: %w", k, err)
	}
	out := make([]CellScore, 0, len(zs))
	for _, z := range zs {
		cell, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, CellScore{Cell: cell, Score: z.Score})
	}
	return out, nil
}

// Close implements Store. The client is shared; the owner closes it.
func (s *RedisStore) Close() error {
	return nil
}
