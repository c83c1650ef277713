package componentcache

import (
	"context"
	"fmt"

	"github.com/oriys/eryx/internal/metrics"
	"github.com/oriys/eryx/internal/observability"
	"golang.org/x/sync/singleflight"
)

// Resolver produces a fresh cache Entry on a miss: run Linker (C3) if
// extensions are present, then Pre-Initializer (C4), then
// engine-serialize, per spec.md §4.5 "On a miss, the Sandbox Builder
// runs Linker -> Pre-Initializer -> engine-serialize, and stores the
// serialized pre-compiled bytes."
type Resolver func(ctx context.Context, key Key) ([]byte, error)

// ComponentCache is the top-level façade the Sandbox Builder calls
// through: Key in, precompiled bytes out, transparently populating the
// backing Store on a miss.
//
// Concurrent requests for the same Key that miss together share a
// single Resolver call via singleflight, mirroring the teacher's use of
// golang.org/x/sync/singleflight in internal/pool to collapse
// concurrent cold-start races onto one VM creation attempt.
type ComponentCache struct {
	store    Store
	resolver Resolver
	group    singleflight.Group
}

// New builds a ComponentCache backed by store, resolving misses with
// resolve.
func New(store Store, resolve Resolver) *ComponentCache {
	return &ComponentCache{store: store, resolver: resolve}
}

// Get returns the precompiled bytes for key, resolving and populating
// the Store on a miss.
func (c *ComponentCache) Get(ctx context.Context, key Key) ([]byte, error) {
	ctx, span := observability.StartSpan(ctx, "componentcache.Get")
	defer span.End()

	tier := tierLabel(c.store)
	span.SetAttributes(observability.AttrCacheTier.String(tier))

	entry, err := c.store.Get(ctx, key)
	if err == nil {
		metrics.Global().RecordCacheHit(tier)
		observability.SetSpanOK(span)
		return entry.Bytes, nil
	}
	if err != ErrNotFound {
		observability.SetSpanError(span, err)
		return nil, fmt.Errorf("componentcache: get: %w", err)
	}
	metrics.Global().RecordCacheMiss(tier)

	hex := key.Hex()
	v, err, _ := c.group.Do(hex, func() (interface{}, error) {
		bytes, err := c.resolver(ctx, key)
		if err != nil {
			return nil, err
		}
		if putErr := c.store.Put(ctx, key, Entry{Key: key, Bytes: bytes}); putErr != nil {
			return nil, fmt.Errorf("componentcache: put after resolve: %w", putErr)
		}
		return bytes, nil
	})
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}
	observability.SetSpanOK(span)
	return v.([]byte), nil
}

// Stats reports the backing Store's tier counters.
func (c *ComponentCache) Stats() Stats {
	return c.store.Stats()
}

// tierLabel names the Store implementation for the cache_hits_total /
// cache_misses_total "tier" label.
func tierLabel(s Store) string {
	switch s.(type) {
	case *MemoryStore:
		return "memory"
	case *FileStore:
		return "file"
	case *RedisTier:
		return "redis"
	case *Tiered:
		return "tiered"
	default:
		return "store"
	}
}
