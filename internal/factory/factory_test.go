package factory

import "testing"

func TestTemplate_SpawnedStartsAtZero(t *testing.T) {
	tmpl := &Template{}
	if tmpl.Spawned() != 0 {
		t.Fatalf("expected 0 spawned instances on a fresh template, got %d", tmpl.Spawned())
	}
}
