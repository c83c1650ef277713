package limits

import "testing"

func TestLimits_WithDefaultsFillsExecutionTimeoutOnly(t *testing.T) {
	l := Limits{}.WithDefaults()
	if l.ExecutionTimeout != DefaultExecutionTimeout {
		t.Fatalf("expected default execution timeout, got %v", l.ExecutionTimeout)
	}
	if l.MemoryBytes != 0 || l.Fuel != 0 || l.MaxCallbacks != 0 {
		t.Fatal("expected every other field to remain zero (unlimited)")
	}
}

func TestEnforcer_PriorityOrderMemoryBeatsEverything(t *testing.T) {
	e := NewEnforcer(Limits{}.WithDefaults())
	e.Record(CauseCallbackLimit)
	e.Record(CauseExecutionTimeout)
	e.Record(CauseMemoryLimit)
	e.Record(CauseFuelExhausted)

	if got := e.Winner(); got != CauseMemoryLimit {
		t.Fatalf("expected CauseMemoryLimit to win, got %v", got)
	}
}

func TestEnforcer_PriorityOrderFuelBeatsTimeout(t *testing.T) {
	e := NewEnforcer(Limits{}.WithDefaults())
	e.Record(CauseCallbackTimeout)
	e.Record(CauseExecutionTimeout)
	e.RecordFuelExhausted(1000)

	if got := e.Winner(); got != CauseFuelExhausted {
		t.Fatalf("expected CauseFuelExhausted to win, got %v", got)
	}
	info := e.FuelInfo()
	if info.Consumed != 1000 {
		t.Fatalf("expected consumed=1000, got %d", info.Consumed)
	}
}

func TestEnforcer_NoWinnerWhenNothingFired(t *testing.T) {
	e := NewEnforcer(Limits{}.WithDefaults())
	if e.AnyFired() {
		t.Fatal("expected no causes fired on fresh enforcer")
	}
	if got := e.Winner(); got != CauseNone {
		t.Fatalf("expected CauseNone, got %v", got)
	}
}

func TestEnforcer_CallbackTimeoutBeatsCallbackLimit(t *testing.T) {
	e := NewEnforcer(Limits{}.WithDefaults())
	e.Record(CauseCallbackLimit)
	e.Record(CauseCallbackTimeout)

	if got := e.Winner(); got != CauseCallbackTimeout {
		t.Fatalf("expected CauseCallbackTimeout to win over CauseCallbackLimit, got %v", got)
	}
}
