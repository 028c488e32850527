package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/moldworks/trickler-controller/internal/hardware"
	"github.com/moldworks/trickler-controller/internal/platform"
	"github.com/moldworks/trickler-controller/internal/registry"
	"github.com/moldworks/trickler-controller/internal/sim"
)

const testConfig = `
z_heights:
  transfer_safe:
    z_coordinate: 90

positions:
  - id: global_ready
    type: GLOBAL_READY
    allowed_origins: [MOLD_READY, SCALE_READY]
    allowed_destinations: [MOLD_READY, scale_ready]
    coordinates: {x: 150, y: 140, z: USE_Z_HEIGHT_POLICY, v: 30}

  - id: mold_ready_0
    type: MOLD_READY
    allowed_origins: [global_ready]
    allowed_destinations: [global_ready]
    coordinates: {x: 40, y: 60, z: USE_Z_HEIGHT_POLICY, v: 30}
    z_height_policy: {required: transfer_safe}

  - id: scale_ready
    type: SCALE_READY
    allowed_origins: [global_ready]
    allowed_destinations: [global_ready, scale_active]
    coordinates: {x: 305, y: 77, v: 30}
    requirements: {active_tool_id: manipulator}

  - id: scale_active
    type: SCALE_READY
    allowed_origins: [scale_ready]
    allowed_destinations: [scale_ready]
    coordinates: {x: PLACEHOLDER_X, y: PLACEHOLDER_Y}
    engagement:
      allowed: true
      requirements: {mold_on_scale: true}
      allowed_actions: [tamp_mold]

actions:
  - id: home_all
    position_scope: [GLOBAL_READY, MOLD_READY, SCALE_READY]

  - id: tamp_mold
    position_scope: [scale_active]
    requires_tool_engaged: true
    required_tool_id: manipulator

  - id: pick_up_mold
    position_scope: [MOLD_READY]
    blocked_when_engaged: true
    requirements: {payload_state: empty}
`

// newBench parks a homed platform at global_ready with its live pose matching
// the declared coordinates.
func newBench(t *testing.T) (*Pipeline, *sim.Actuator) {
	t.Helper()
	reg, err := registry.Parse([]byte(testConfig))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	act := sim.NewActuator()
	act.HomeAll()
	act.SetPosition(hardware.AxisX, 150)
	act.SetPosition(hardware.AxisY, 140)
	act.SetPosition(hardware.AxisZ, 90)
	act.SetPosition(hardware.AxisV, 30)
	ctx := platform.NewContext("global_ready")
	ctx.ZHeightID = "transfer_safe"
	ctx.ActiveToolID = "manipulator"
	return New(reg, ctx, act, nil), act
}

// parkAt moves the live pose and logical position together so the live
// check passes at the new position.
func parkAt(p *Pipeline, act *sim.Actuator, id string, x, y, z, v float64) {
	p.Context().PositionID = id
	act.SetPosition(hardware.AxisX, x)
	act.SetPosition(hardware.AxisY, y)
	act.SetPosition(hardware.AxisZ, z)
	act.SetPosition(hardware.AxisV, v)
}

func TestMoveAlongDeclaredEdge(t *testing.T) {
	p, act := newBench(t)
	executed := false
	res := p.Run(Request{
		TargetPositionID: "scale_ready",
		Exec: func() error {
			executed = true
			parkAt(p, act, p.Context().PositionID, 305, 77, 90, 30)
			return nil
		},
	})
	if !res.Valid {
		t.Fatalf("move rejected: %s", res.Reason)
	}
	if !executed {
		t.Fatalf("exec did not run")
	}
	if p.Context().PositionID != "scale_ready" {
		t.Fatalf("position not committed: %q", p.Context().PositionID)
	}
	if p.State() != platform.StateIdle {
		t.Fatalf("expected idle after commit, got %s", p.State())
	}
}

func TestMoveMetadataCarriedOnPendingMove(t *testing.T) {
	p, act := newBench(t)
	var seen map[string]string
	res := p.Run(Request{
		TargetPositionID: "scale_ready",
		Metadata:         map[string]string{"operator": "bench-7"},
		Exec: func() error {
			if p.Context().PendingMove != nil {
				seen = p.Context().PendingMove.Metadata
			}
			parkAt(p, act, p.Context().PositionID, 305, 77, 90, 30)
			return nil
		},
	})
	if !res.Valid {
		t.Fatalf("move rejected: %s", res.Reason)
	}
	if seen["operator"] != "bench-7" {
		t.Fatalf("metadata not carried on pending move: %v", seen)
	}
	if p.Context().PendingMove != nil {
		t.Fatalf("pending move not cleared after commit")
	}
}

func TestMoveRejectedWithoutForwardEdge(t *testing.T) {
	p, _ := newBench(t)
	// global_ready does not declare scale_active as a destination.
	res := p.Run(Request{TargetPositionID: "scale_active"})
	if res.Valid {
		t.Fatalf("expected rejection")
	}
	if !strings.Contains(res.Reason, "not a declared destination") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestMoveRejectedWithoutReverseEdge(t *testing.T) {
	p, act := newBench(t)
	parkAt(p, act, "scale_active", 0, 0, 0, 0)
	// scale_active declares scale_ready as a destination, but scale_ready
	// does not list scale_active as an origin.
	res := p.Run(Request{TargetPositionID: "scale_ready"})
	if res.Valid {
		t.Fatalf("expected rejection")
	}
	if !strings.Contains(res.Reason, "not a declared origin") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestMoveRejectedWhileMoving(t *testing.T) {
	p, act := newBench(t)
	var nested platform.Result
	res := p.Run(Request{
		TargetPositionID: "scale_ready",
		Exec: func() error {
			nested = p.Run(Request{TargetPositionID: "global_ready"})
			parkAt(p, act, p.Context().PositionID, 305, 77, 90, 30)
			return nil
		},
	})
	if !res.Valid {
		t.Fatalf("outer move rejected: %s", res.Reason)
	}
	if nested.Valid {
		t.Fatalf("nested request should be rejected while moving")
	}
	if !strings.Contains(nested.Reason, "already executing a move") {
		t.Fatalf("unexpected reason: %s", nested.Reason)
	}
}

func TestFailedExecutionAbortsWithoutPartialCommit(t *testing.T) {
	p, _ := newBench(t)
	res := p.Run(Request{
		TargetPositionID: "scale_ready",
		Exec:             func() error { return errors.New("board fault") },
	})
	if res.Valid {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(res.Reason, "board fault") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
	if p.Context().PositionID != "global_ready" {
		t.Fatalf("position mutated on aborted move: %q", p.Context().PositionID)
	}
	if p.State() != platform.StateIdle {
		t.Fatalf("expected idle after abort, got %s", p.State())
	}
	if p.Context().PendingMove != nil {
		t.Fatalf("pending move not cleared")
	}
}

func TestMoveRejectedWhenAxesNotHomed(t *testing.T) {
	reg, err := registry.Parse([]byte(testConfig))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	act := sim.NewActuator() // nothing homed
	ctx := platform.NewContext("global_ready")
	p := New(reg, ctx, act, nil)

	res := p.Run(Request{TargetPositionID: "scale_ready"})
	if res.Valid {
		t.Fatalf("expected rejection")
	}
	if !strings.Contains(res.Reason, "axes not homed") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
	for _, ax := range []string{"X", "Y", "Z", "U", "V"} {
		if !strings.Contains(res.Reason, ax) {
			t.Fatalf("reason %q does not name axis %s", res.Reason, ax)
		}
	}
}

func TestHomingActionExemptFromHomedCheck(t *testing.T) {
	reg, err := registry.Parse([]byte(testConfig))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	act := sim.NewActuator()
	ctx := platform.NewContext("global_ready")
	p := New(reg, ctx, act, nil)

	res := p.Run(Request{
		ActionID: "home_all",
		Exec:     func() error { return act.Command("G28") },
	})
	if !res.Valid {
		t.Fatalf("homing action rejected: %s", res.Reason)
	}
	if !act.AxesHomed()[hardware.AxisX] {
		t.Fatalf("simulated G28 did not home axes")
	}
}

func TestLivePositionMismatchRejected(t *testing.T) {
	p, act := newBench(t)
	act.SetPosition(hardware.AxisX, 150.5) // outside the ±0.2 default
	res := p.Run(Request{TargetPositionID: "scale_ready"})
	if res.Valid {
		t.Fatalf("expected rejection")
	}
	if !strings.Contains(res.Reason, "X coordinate mismatch") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestZHeightPolicyEnforced(t *testing.T) {
	p, act := newBench(t)

	// mold_ready_0 requires transfer_safe, which is set: the move passes.
	res := p.Run(Request{
		TargetPositionID: "mold_ready_0",
		Exec: func() error {
			parkAt(p, act, p.Context().PositionID, 40, 60, 90, 30)
			return nil
		},
	})
	if !res.Valid {
		t.Fatalf("move with required z-height rejected: %s", res.Reason)
	}

	parkAt(p, act, "global_ready", 150, 140, 90, 30)
	p.Context().ZHeightID = ""
	res = p.Run(Request{TargetPositionID: "mold_ready_0"})
	if res.Valid {
		t.Fatalf("expected rejection with unset z-height")
	}
	if !strings.Contains(res.Reason, "z-height") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestRequirementRejected(t *testing.T) {
	p, _ := newBench(t)
	p.Context().ActiveToolID = ""
	res := p.Run(Request{TargetPositionID: "scale_ready"})
	if res.Valid {
		t.Fatalf("expected rejection")
	}
	if !strings.Contains(res.Reason, "active_tool_id") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestAdditionalRequirementsEvaluated(t *testing.T) {
	p, _ := newBench(t)
	res := p.Run(Request{
		TargetPositionID: "scale_ready",
		AdditionalRequirements: []registry.Requirement{
			{Key: registry.ReqPayloadState, Values: []string{"mold_without_top_piston"}},
		},
	})
	if res.Valid {
		t.Fatalf("expected rejection: payload is empty")
	}
	if !strings.Contains(res.Reason, "payload_state") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestActionScopeRejected(t *testing.T) {
	p, _ := newBench(t)
	res := p.Run(Request{ActionID: "pick_up_mold"})
	if res.Valid {
		t.Fatalf("expected rejection at global_ready")
	}
	if !strings.Contains(res.Reason, "not available at") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestEngagementLifecycle(t *testing.T) {
	p, act := newBench(t)
	parkAt(p, act, "scale_active", 0, 0, 0, 0)
	p.Context().MoldOnScale = true

	res := p.RequestToolEngagement("manipulator", nil)
	if !res.Valid {
		t.Fatalf("engage rejected: %s", res.Reason)
	}
	if p.State() != platform.StateToolEngaged {
		t.Fatalf("expected tool_engaged, got %s", p.State())
	}

	// Moving away while engaged is refused.
	res = p.Run(Request{TargetPositionID: "scale_ready"})
	if res.Valid {
		t.Fatalf("expected engaged move refusal")
	}
	if !strings.Contains(res.Reason, "tool engaged") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}

	// An engaged-only action runs in place.
	res = p.Run(Request{ActionID: "tamp_mold"})
	if !res.Valid {
		t.Fatalf("tamp rejected while engaged: %s", res.Reason)
	}
	if p.State() != platform.StateToolEngaged {
		t.Fatalf("engaged action must not change state, got %s", p.State())
	}

	// An action blocked while engaged is refused.
	res = p.Run(Request{ActionID: "pick_up_mold"})
	if res.Valid {
		t.Fatalf("expected blocked_when_engaged refusal")
	}

	res = p.RequestToolDisengagement(nil)
	if !res.Valid {
		t.Fatalf("disengage rejected: %s", res.Reason)
	}
	if p.State() != platform.StateIdle {
		t.Fatalf("expected idle after disengage, got %s", p.State())
	}
	if p.Context().EngagedToolID != "" || p.Context().EngagedReadyPositionID != "" {
		t.Fatalf("engagement bookkeeping not cleared")
	}
}

func TestEngagementRefusedWithoutRequirements(t *testing.T) {
	p, act := newBench(t)
	parkAt(p, act, "scale_active", 0, 0, 0, 0)
	// mold_on_scale is false.
	res := p.RequestToolEngagement("manipulator", nil)
	if res.Valid {
		t.Fatalf("expected engagement refusal")
	}
	if !strings.Contains(res.Reason, "mold_on_scale") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestEngagementRefusedAtWrongPosition(t *testing.T) {
	p, _ := newBench(t)
	res := p.RequestToolEngagement("manipulator", nil)
	if res.Valid {
		t.Fatalf("expected refusal: global_ready does not allow engagement")
	}
	if !strings.Contains(res.Reason, "does not allow tool engagement") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestEngagedActionRequiresEngagedState(t *testing.T) {
	p, act := newBench(t)
	parkAt(p, act, "scale_active", 0, 0, 0, 0)
	res := p.Run(Request{ActionID: "tamp_mold"})
	if res.Valid {
		t.Fatalf("expected refusal: tool not engaged")
	}
	if !strings.Contains(res.Reason, "requires the tool to be engaged") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestRunPanicsOnMalformedRequest(t *testing.T) {
	p, _ := newBench(t)
	assertPanics := func(req Request) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic")
			}
		}()
		p.Run(req)
	}
	assertPanics(Request{})
	assertPanics(Request{TargetPositionID: "scale_ready", ActionID: "home_all"})
}
