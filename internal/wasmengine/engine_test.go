package wasmengine

import (
	"testing"
	"time"
)

func TestPool_AcquireSharesEngineForIdenticalConfig(t *testing.T) {
	p := NewPool()
	cfg := Config{EpochTickInterval: 5 * time.Millisecond}

	e1, err := p.Acquire(cfg)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	e2, err := p.Acquire(cfg)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if e1 != e2 {
		t.Fatal("expected identical Config to share one Engine")
	}

	p.Release(e1)
	p.Release(e2)
}

func TestPool_AcquireSeparatesDistinctConfig(t *testing.T) {
	p := NewPool()
	e1, err := p.Acquire(Config{EpochTickInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	e2, err := p.Acquire(Config{EpochTickInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if e1 == e2 {
		t.Fatal("expected distinct Config to get distinct Engines")
	}
	p.Release(e1)
	p.Release(e2)
}

func TestEngine_FuelDisabledByDefault(t *testing.T) {
	p := NewPool()
	e, err := p.Acquire(Config{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(e)

	if e.FuelEnabled() {
		t.Fatal("expected fuel disabled by default")
	}
	e.EnableFuel()
	if !e.FuelEnabled() {
		t.Fatal("expected fuel enabled after EnableFuel")
	}
}

func TestEngine_TickerStopsOnLastRelease(t *testing.T) {
	p := NewPool()
	cfg := Config{EpochTickInterval: 5 * time.Millisecond}
	e, err := p.Acquire(cfg)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(15 * time.Millisecond) // let the ticker fire at least once

	p.Release(e)

	p.mu.Lock()
	_, stillRegistered := p.engines[cfg.Key()]
	p.mu.Unlock()
	if stillRegistered {
		t.Fatal("expected engine removed from pool after last release")
	}
}
