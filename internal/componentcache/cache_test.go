package componentcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testKey() Key {
	return Key{RuntimeVersion: "3.12", EngineVersion: "v28"}
}

func TestComponentCache_MissResolvesAndCaches(t *testing.T) {
	store := NewMemoryStore(0)
	var calls atomic.Int32
	c := New(store, func(ctx context.Context, key Key) ([]byte, error) {
		calls.Add(1)
		return []byte("compiled-bytes"), nil
	})

	b, err := c.Get(context.Background(), testKey())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(b) != "compiled-bytes" {
		t.Fatalf("unexpected bytes: %q", b)
	}

	b2, err := c.Get(context.Background(), testKey())
	if err != nil {
		t.Fatalf("Get (second): %v", err)
	}
	if string(b2) != "compiled-bytes" {
		t.Fatalf("unexpected bytes on second get: %q", b2)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected resolver called exactly once, got %d", calls.Load())
	}
}

func TestComponentCache_ConcurrentMissesCollapseViaSingleflight(t *testing.T) {
	store := NewMemoryStore(0)
	var calls atomic.Int32
	release := make(chan struct{})
	c := New(store, func(ctx context.Context, key Key) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("x"), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get(context.Background(), testKey())
		}()
	}
	time.Sleep(20 * time.Millisecond) // let all goroutines join the in-flight singleflight call
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one resolver call across concurrent misses, got %d", calls.Load())
	}
}
