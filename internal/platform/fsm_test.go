package platform

import (
	"testing"

	"github.com/moldworks/trickler-controller/internal/registry"
)

func TestLegalTransitions(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		want State
	}{
		{StateIdle, BeginMotion, StateMoving},
		{StateMoving, CompleteMotion, StateIdle},
		{StateMoving, CompleteMotionEngaged, StateToolEngaged},
		{StateMoving, AbortMotion, StateIdle},
		{StateIdle, EngageTool, StateToolEngaged},
		{StateToolEngaged, DisengageTool, StateIdle},
	}
	for _, c := range cases {
		got, err := Next(c.from, c.ev)
		if err != nil {
			t.Fatalf("%s on %s: %v", c.ev, c.from, err)
		}
		if got != c.want {
			t.Fatalf("%s on %s: got %s, want %s", c.ev, c.from, got, c.want)
		}
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
	}{
		{StateMoving, BeginMotion},
		{StateToolEngaged, BeginMotion},
		{StateIdle, CompleteMotion},
		{StateIdle, DisengageTool},
		{StateToolEngaged, EngageTool},
		{StateIdle, AbortMotion},
	}
	for _, c := range cases {
		got, err := Next(c.from, c.ev)
		if err == nil {
			t.Fatalf("%s on %s: expected error", c.ev, c.from)
		}
		if got != c.from {
			t.Fatalf("%s on %s: state changed on illegal transition", c.ev, c.from)
		}
	}
}

func TestRequirementValueExposesContext(t *testing.T) {
	ctx := NewContext("global_ready")
	ctx.ZHeightID = "transfer_safe"
	ctx.ActiveToolID = "manipulator"
	ctx.PayloadState = PayloadMold
	ctx.MoldOnScale = true

	cases := map[string]string{
		"payload_state":  "mold_without_top_piston",
		"mold_on_scale":  "true",
		"active_tool_id": "manipulator",
		"z_height_id":    "transfer_safe",
		"position_id":    "global_ready",
	}
	for key, want := range cases {
		if got := ctx.RequirementValue(registry.ReqKey(key)); got != want {
			t.Fatalf("%s: got %q, want %q", key, got, want)
		}
	}
}
