// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

package events

import (
	"context"
	"sync"
)

// MemoryBus is the in-memory Bus for local/offline runs and tests. Streams
// are trimmed exactly to the configured bound.
type MemoryBus struct {
	mu      sync.Mutex
	maxLen  int
	streams map[string][]map[string]string
}

// NewMemoryBus creates an empty in-memory bus. maxLen <= 0 selects
// DefaultMaxStreamLen.
func NewMemoryBus(maxLen int) *MemoryBus {
	if maxLen <= 0 {
		maxLen = DefaultMaxStreamLen
	}
	return &MemoryBus{maxLen: maxLen, streams: make(map[string][]map[string]string)}
}

// Publish implements Bus.
func (b *MemoryBus) Publish(_ context.Context, stream string, fields map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.append(stream, fields)
	return nil
}

// PublishBatch implements Bus.
func (b *MemoryBus) PublishBatch(_ context.Context, stream string, batch []map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, fields := range batch {
		b.append(stream, fields)
	}
	return nil
}

// Close implements Bus.
func (b *MemoryBus) Close() error {
	return nil
}

// append must be called with mu held.
func (b *MemoryBus) append(stream string, fields map[string]string) {
	entries := append(b.streams[stream], fields)
	if len(entries) > b.maxLen {
		entries = entries[len(entries)-b.maxLen:]
	}
	b.streams[stream] = entries
}

// Entries returns a copy of a stream's contents, oldest first.
func (b *MemoryBus) Entries(stream string) []map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]string, len(b.streams[stream]))
	copy(out, b.streams[stream])
	return out
}

// Len returns the current length of a stream.
func (b *MemoryBus) Len(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[stream])
}
