package componentcache

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Get when no entry exists for the key.
var ErrNotFound = errors.New("componentcache: key not found")

// Entry mirrors spec.md §3's Cache Entry: immutable payload, mutable LRU
// bookkeeping.
type Entry struct {
	Key        Key
	Bytes      []byte
	CreatedAt  int64 // unix nanos; stamped by the caller so tests can control time
	LastUsedAt int64
}

// Store is the two-operation interface every Component Cache tier
// implements (spec.md §4.5). Get touches LRU recency; Put inserts or
// replaces an entry and may evict others to stay within the tier's bound.
type Store interface {
	Get(ctx context.Context, key Key) (Entry, error)
	Put(ctx context.Context, key Key, e Entry) error

	// Stats reports tier-level counters for observability (SPEC_FULL.md
	// "Cache Backend Stats").
	Stats() Stats
}

// Stats is a point-in-time snapshot of one cache tier's counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
	Bytes     int64
}
