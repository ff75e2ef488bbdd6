// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on Redis Streams. XADD with MAXLEN ~ gives the
// bounded append-and-trim semantics in a single atomic command; batches go
// through a pipeline so workers never interleave entries.
type RedisBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewRedisBus creates a bus trimming every stream to maxLen entries
// (approximately). maxLen <= 0 selects DefaultMaxStreamLen.
func NewRedisBus(rdb *redis.Client, maxLen int64) *RedisBus {
	if maxLen <= 0 {
		maxLen = DefaultMaxStreamLen
	}
	return &RedisBus{rdb: rdb, maxLen: maxLen}
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, stream string, fields map[string]string) error {
	if err := b.rdb.XAdd(ctx, b.addArgs(stream, fields)).Err(); err != nil {
		return fmt.Errorf("xadd to %s: %w", stream, err)
	}
	return nil
}

// PublishBatch implements Bus.
func (b *RedisBus) PublishBatch(ctx context.Context, stream string, batch []map[string]string) error {
	if len(batch) == 0 {
		return nil
	}
	pipe := b.rdb.Pipeline()
	for _, fields := range batch {
		pipe.XAdd(ctx, b.addArgs(stream, fields))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd batch of %d to %s: %w", len(batch), stream, err)
	}
	return nil
}

// Close implements Bus. The underlying client is shared with the scheduler
// store and closed by the owner, not here.
func (b *RedisBus) Close() error {
	return nil
}

func (b *RedisBus) addArgs(stream string, fields map[string]string) *redis.XAddArgs {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: values,
	}
}
