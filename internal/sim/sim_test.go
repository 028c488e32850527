package sim

import (
	"testing"

	"github.com/moldworks/trickler-controller/internal/hardware"
)

func TestHomingCommands(t *testing.T) {
	a := NewActuator()
	if a.AxesHomed()[hardware.AxisX] {
		t.Fatalf("new actuator should not be homed")
	}
	if err := a.Command("G28"); err != nil {
		t.Fatalf("G28: %v", err)
	}
	homed := a.AxesHomed()
	for _, ax := range []hardware.Axis{hardware.AxisX, hardware.AxisV, hardware.AxisW} {
		if !homed[ax] {
			t.Fatalf("axis %s not homed after G28", ax)
		}
	}

	b := NewActuator()
	if err := b.Command(`M98 P"homev.g"`); err != nil {
		t.Fatalf("homev: %v", err)
	}
	if !b.AxesHomed()[hardware.AxisV] || b.AxesHomed()[hardware.AxisX] {
		t.Fatalf("homev macro should home only V")
	}
	if err := b.Command(`M98 P"homew.g"`); err != nil {
		t.Fatalf("homew: %v", err)
	}
	if !b.AxesHomed()[hardware.AxisW] {
		t.Fatalf("homew macro should home W")
	}
}

func TestRelativeFeedTriggersHook(t *testing.T) {
	a := NewActuator()
	var fed float64
	a.FeedHook = func(mm float64) { fed += mm }

	for _, raw := range []string{"G92 W0", "G91", "G1 W0.2500 F200", "M400", "G1 W4.0000 F200", "G90"} {
		if err := a.Command(raw); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
	}
	if fed != 4.25 {
		t.Fatalf("hook saw %v, want 4.25", fed)
	}
	pos, err := a.Position()
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos[hardware.AxisW] != 4.25 {
		t.Fatalf("W position %v, want 4.25", pos[hardware.AxisW])
	}

	// Absolute mode: no hook.
	if err := a.Command("G1 W10 F200"); err != nil {
		t.Fatalf("absolute feed: %v", err)
	}
	if fed != 4.25 {
		t.Fatalf("hook ran in absolute mode")
	}
	pos, _ = a.Position()
	if pos[hardware.AxisW] != 10 {
		t.Fatalf("absolute W position %v, want 10", pos[hardware.AxisW])
	}
}

func TestMoveByFeedsHookOnW(t *testing.T) {
	a := NewActuator()
	var fed float64
	a.FeedHook = func(mm float64) { fed += mm }
	if err := a.MoveBy(hardware.Delta{DW: 2.5}, 200); err != nil {
		t.Fatalf("move by: %v", err)
	}
	if fed != 2.5 {
		t.Fatalf("hook saw %v, want 2.5", fed)
	}
	if err := a.MoveBy(hardware.Delta{DY: 5}, 200); err != nil {
		t.Fatalf("move by: %v", err)
	}
	if fed != 2.5 {
		t.Fatalf("hook ran for a non-W move")
	}
}

func TestCommandsRecorded(t *testing.T) {
	a := NewActuator()
	for _, raw := range []string{"T0", "M400", "T-1"} {
		if err := a.Command(raw); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
	}
	got := a.Commands()
	if len(got) != 3 || got[0] != "T0" || got[2] != "T-1" {
		t.Fatalf("unexpected command log: %v", got)
	}
}

func TestScaleFaultInjection(t *testing.T) {
	s := NewScale()
	s.SetMass(1.5)
	s.SetNoise(0.25)
	s.FailNextReads(1)

	if _, err := s.Weight(true); err == nil {
		t.Fatalf("expected injected failure")
	}
	w, err := s.Weight(true)
	if err != nil {
		t.Fatalf("stable read: %v", err)
	}
	if w != 1.5 {
		t.Fatalf("stable read %v, want 1.5", w)
	}
	w, _ = s.Weight(false)
	if w != 1.75 {
		t.Fatalf("unstable read %v, want 1.75", w)
	}

	if err := s.Tare(); err != nil {
		t.Fatalf("tare: %v", err)
	}
	if s.Tares() != 1 {
		t.Fatalf("tare count %d", s.Tares())
	}
	if w, _ := s.Weight(true); w != 0 {
		t.Fatalf("mass after tare %v", w)
	}
}
