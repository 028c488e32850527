package layout

import (
	"strings"
	"testing"
)

func TestDeckSlots(t *testing.T) {
	d := NewDeck(6)
	if d.Size() != 6 {
		t.Fatalf("size: %d", d.Size())
	}
	m, ok := d.Mold("0")
	if !ok {
		t.Fatalf("slot 0 missing")
	}
	if !m.Valid {
		t.Fatalf("new mold not valid")
	}
	if m.ReadyPos != "mold_ready_0" {
		t.Fatalf("ready pos: %q", m.ReadyPos)
	}
	if m.SlotID() != "0" {
		t.Fatalf("slot id: %q", m.SlotID())
	}
	if _, ok := d.Mold("6"); ok {
		t.Fatalf("slot 6 should not exist")
	}
}

func TestMoldWeightBookkeeping(t *testing.T) {
	m := &Mold{Name: "0", Valid: true, MaxWeight: 1.0}
	if err := m.AddWeight(0.6); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.AddWeight(0.5); err == nil {
		t.Fatalf("expected max-weight error")
	}
	if m.CurrentWeight != 0.6 {
		t.Fatalf("weight mutated on rejected add: %v", m.CurrentWeight)
	}
	if err := m.RemoveWeight(0.7); err == nil {
		t.Fatalf("expected negative-weight error")
	}
	if err := m.RemoveWeight(0.6); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if m.CurrentWeight != 0 {
		t.Fatalf("weight after remove: %v", m.CurrentWeight)
	}
}

func TestUncappedMold(t *testing.T) {
	m := &Mold{Name: "0", Valid: true}
	if err := m.AddWeight(1000); err != nil {
		t.Fatalf("uncapped add: %v", err)
	}
}

func TestDispenserConsumption(t *testing.T) {
	disps := NewDispensers(2, 3)
	if len(disps) != 2 {
		t.Fatalf("count: %d", len(disps))
	}
	d := disps[1]
	if d.ReadyPos != "dispenser_ready_1" {
		t.Fatalf("ready pos: %q", d.ReadyPos)
	}
	for i := 0; i < 3; i++ {
		if err := d.RemovePiston(); err != nil {
			t.Fatalf("remove %d: %v", i, err)
		}
	}
	err := d.RemovePiston()
	if err == nil {
		t.Fatalf("expected empty error")
	}
	if !strings.Contains(err.Error(), "empty") {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Remaining != 0 {
		t.Fatalf("remaining went negative: %d", d.Remaining)
	}
}
