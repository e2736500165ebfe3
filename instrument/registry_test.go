package instrument

import (
	"path/filepath"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instruments.json")
	reg, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return reg, path
}

func TestRegistrySeedsPlaceholder(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if reg.Size() != 1 {
		t.Fatalf("fresh registry has %d entries, want 1", reg.Size())
	}
}

func TestResolveIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)

	first, err := reg.Resolve("BTC-PERPETUAL")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := reg.Resolve("BTC-PERPETUAL")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("ids differ across resolves: %d vs %d", first.ID, second.ID)
	}
	if reg.Size() != 2 {
		t.Errorf("registry has %d entries, want 2", reg.Size())
	}
}

func TestResolveAssignsIncreasingIDs(t *testing.T) {
	reg, _ := newTestRegistry(t)

	names := []string{"BTC-PERPETUAL", "ETH-PERPETUAL", "BTC-28JUN24", "ETH-28JUN24-3000-C"}
	var last int64
	for _, name := range names {
		inst, err := reg.Resolve(name)
		if err != nil {
			t.Fatalf("Resolve(%q) failed: %v", name, err)
		}
		if inst.ID <= last && name != names[0] {
			t.Errorf("id %d for %q not above previous %d", inst.ID, name, last)
		}
		if inst.ID == 0 {
			t.Errorf("id 0 for %q collides with the placeholder", name)
		}
		last = inst.ID
	}
}

func TestRegistrySurvivesRestart(t *testing.T) {
	reg, path := newTestRegistry(t)

	inst, err := reg.Resolve("SOL-PERPETUAL")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	reloaded, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("reload registry: %v", err)
	}
	again, err := reloaded.Resolve("SOL-PERPETUAL")
	if err != nil {
		t.Fatalf("Resolve after reload failed: %v", err)
	}
	if again.ID != inst.ID {
		t.Errorf("reloaded id %d, want %d", again.ID, inst.ID)
	}

	fresh, err := reloaded.Resolve("XRP-PERPETUAL")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if fresh.ID <= inst.ID {
		t.Errorf("fresh id %d not above persisted maximum %d", fresh.ID, inst.ID)
	}
}

func TestResolveRejectsMalformedName(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Resolve("not-an-instrument"); err == nil {
		t.Fatal("expected error for malformed name")
	}
	if reg.Size() != 1 {
		t.Errorf("malformed name must not allocate an id, registry has %d entries", reg.Size())
	}
}
