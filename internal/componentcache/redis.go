package componentcache

import (
	"context"
	"fmt"

	"github.com/oriys/eryx/internal/cache"
)

// RedisTier adapts the generic distributed cache.Cache interface into a
// Component Cache Store, so a fleet of Eryx hosts can share pre-compiled
// bytes without each one paying the Linker/Pre-Initializer cost on a
// cold Cache Key.
type RedisTier struct {
	backend cache.Cache
}

// NewRedisTier wraps an existing cache.Cache (typically cache.RedisCache)
// as a Component Cache tier.
func NewRedisTier(backend cache.Cache) *RedisTier {
	return &RedisTier{backend: backend}
}

func (t *RedisTier) Get(ctx context.Context, key Key) (Entry, error) {
	data, err := t.backend.Get(ctx, key.Hex())
	if err == cache.ErrNotFound {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("redis tier get: %w", err)
	}
	return Entry{Key: key, Bytes: data}, nil
}

func (t *RedisTier) Put(ctx context.Context, key Key, e Entry) error {
	// No TTL: pre-compiled bytes are valid until the engine version
	// changes, which is reflected by a different Cache Key, not expiry.
	if err := t.backend.Set(ctx, key.Hex(), e.Bytes, 0); err != nil {
		return fmt.Errorf("redis tier put: %w", err)
	}
	return nil
}

func (t *RedisTier) Stats() Stats {
	// The generic cache.Cache interface does not expose tier counters;
	// Redis-side stats are scraped independently via its own exporter.
	return Stats{}
}
