package componentcache

import "context"

// Tiered composes an L1 (typically MemoryStore) with an L2 (typically
// FileStore or RedisTier), in the same read-through / write-through shape
// as internal/cache.TieredCache, generalized to Component Cache semantics.
type Tiered struct {
	l1 Store
	l2 Store
}

// NewTiered builds a two-level Component Cache.
func NewTiered(l1, l2 Store) *Tiered {
	return &Tiered{l1: l1, l2: l2}
}

func (t *Tiered) Get(ctx context.Context, key Key) (Entry, error) {
	e, err := t.l1.Get(ctx, key)
	if err == nil {
		return e, nil
	}

	e, err = t.l2.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}

	_ = t.l1.Put(ctx, key, e)
	return e, nil
}

func (t *Tiered) Put(ctx context.Context, key Key, e Entry) error {
	_ = t.l1.Put(ctx, key, e)
	return t.l2.Put(ctx, key, e)
}

func (t *Tiered) Stats() Stats {
	l1 := t.l1.Stats()
	l2 := t.l2.Stats()
	return Stats{
		Hits:      l1.Hits + l2.Hits,
		Misses:    l2.Misses,
		Evictions: l1.Evictions + l2.Evictions,
		Entries:   l1.Entries,
		Bytes:     l1.Bytes,
	}
}
