// Package pipeline is the validation gate every motion request passes
// through. It evaluates the ordered rule sequence against the registry and
// the motion context, drives the control state machine around execution, and
// journals every decision. No rule mutates context state; mutation happens
// only on commit, and a failed execution aborts cleanly back to idle with no
// partial state.
package pipeline

import (
	"fmt"
	"log"
	"strings"

	"github.com/moldworks/trickler-controller/internal/hardware"
	"github.com/moldworks/trickler-controller/internal/journal"
	"github.com/moldworks/trickler-controller/internal/platform"
	"github.com/moldworks/trickler-controller/internal/registry"
)

// #region request

// Request is one operation submitted to the gate. Exactly one of
// TargetPositionID and ActionID must be set; setting both or neither is a
// caller defect and panics.
type Request struct {
	TargetPositionID string
	ActionID         string

	// AdditionalRequirements are caller-supplied predicates evaluated after
	// the descriptor's own requirements.
	AdditionalRequirements []registry.Requirement

	// Metadata is caller-supplied annotation carried on the pending move
	// and written with the journal row. Never inspected by validation.
	Metadata map[string]string

	// Exec performs the physical motion once validation passes. A nil Exec
	// validates and commits without touching hardware.
	Exec func() error

	// LeavesToolEngaged marks requests whose successful execution ends with
	// the manipulator coupled to the payload.
	LeavesToolEngaged bool
}

// homingActions are exempt from the homed-axes precondition: they exist to
// establish that very state.
var homingActions = map[string]bool{
	"home_all":         true,
	"home_manipulator": true,
	"home_trickler":    true,
}

// #endregion request

// #region pipeline

// Pipeline validates and executes motion requests for one session.
type Pipeline struct {
	reg   *registry.Registry
	ctx   *platform.MotionContext
	act   hardware.Actuator
	jrn   *journal.Journal
	state platform.State
}

// New builds a pipeline in the idle state. jrn may be nil.
func New(reg *registry.Registry, ctx *platform.MotionContext, act hardware.Actuator, jrn *journal.Journal) *Pipeline {
	return &Pipeline{reg: reg, ctx: ctx, act: act, jrn: jrn}
}

// State reports the current control state.
func (p *Pipeline) State() platform.State { return p.state }

// Context returns the session's motion context.
func (p *Pipeline) Context() *platform.MotionContext { return p.ctx }

// Registry returns the position catalog this pipeline validates against.
func (p *Pipeline) Registry() *registry.Registry { return p.reg }

// Run validates req and, if every rule passes, executes it and commits the
// position change. The returned result carries the rejection reason on
// failure; hard faults during execution abort the request and surface in the
// reason as well.
func (p *Pipeline) Run(req Request) platform.Result {
	hasMove := req.TargetPositionID != ""
	hasAction := req.ActionID != ""
	if hasMove == hasAction {
		panic("pipeline: request must name exactly one of target position and action")
	}

	before := p.ctx.PositionID
	var res platform.Result
	if hasMove {
		res = p.runMove(req)
	} else {
		res = p.runAction(req)
	}
	p.journalDecision(req, before, res)
	return res
}

// #endregion pipeline

// #region move

func (p *Pipeline) runMove(req Request) platform.Result {
	if p.state == platform.StateMoving {
		return platform.Fail("already executing a move to %q", p.ctx.PendingMove.TargetPositionID)
	}

	target, err := p.reg.Get(req.TargetPositionID)
	if err != nil {
		return platform.Fail("%v", err)
	}

	if res := p.checkAxesHomed(); !res.Valid {
		return res
	}

	if p.state == platform.StateToolEngaged {
		// While coupled to the payload the platform must not leave the
		// engagement-bound ready point. Edge and z-policy checks do not
		// apply to re-seating at the same position.
		if target.ID != p.ctx.EngagedReadyPositionID {
			return platform.Fail("tool engaged at %q: move to %q refused",
				p.ctx.EngagedReadyPositionID, target.ID)
		}
	} else {
		current, err := p.reg.Get(p.ctx.PositionID)
		if err != nil {
			return platform.Fail("current position: %v", err)
		}
		// Both directions of the edge must be declared.
		if !current.AllowedDestinations.Has(target.ID) {
			return platform.Fail("move %q -> %q not permitted: %q is not a declared destination of %q",
				current.ID, target.ID, target.ID, current.ID)
		}
		if !target.AllowedOrigins.Has(current.ID) {
			return platform.Fail("move %q -> %q not permitted: %q is not a declared origin of %q",
				current.ID, target.ID, current.ID, target.ID)
		}
		if msg := target.ZHeightPolicy.Validate(p.ctx.ZHeightID); msg != "" {
			return platform.Fail("%s", msg)
		}
	}

	if res := p.checkLivePosition(); !res.Valid {
		return res
	}
	if res := p.checkRequirements(target.Requirements); !res.Valid {
		return res
	}
	if res := p.checkRequirements(req.AdditionalRequirements); !res.Valid {
		return res
	}

	return p.commit(req, func() {
		p.ctx.PositionID = req.TargetPositionID
	})
}

// #endregion move

// #region action

func (p *Pipeline) runAction(req Request) platform.Result {
	if p.state == platform.StateMoving {
		return platform.Fail("already executing a move to %q", p.ctx.PendingMove.TargetPositionID)
	}

	action, err := p.reg.Action(req.ActionID)
	if err != nil {
		return platform.Fail("%v", err)
	}
	if len(action.PositionScope) == 0 {
		panic(fmt.Sprintf("pipeline: action %q has an empty position scope", action.ID))
	}

	if !homingActions[action.ID] {
		if res := p.checkAxesHomed(); !res.Valid {
			return res
		}
	}

	// While engaged, scope is judged against the ready point the engagement
	// is bound to, since the logical position may be an engagement pose.
	refPosition := p.ctx.PositionID
	if p.state == platform.StateToolEngaged && p.ctx.EngagedReadyPositionID != "" {
		refPosition = p.ctx.EngagedReadyPositionID
	}
	if !action.PositionScope.Has(refPosition) && !action.PositionScope.Has(p.ctx.PositionID) {
		return platform.Fail("action %q not available at %q, available at: %s",
			action.ID, p.ctx.PositionID, strings.Join(action.PositionScope.Sorted(), ", "))
	}

	if p.state == platform.StateToolEngaged && action.BlockedWhenEngaged {
		return platform.Fail("action %q not available while the tool is engaged", action.ID)
	}
	if action.RequiresToolEngaged && p.state != platform.StateToolEngaged {
		return platform.Fail("action %q requires the tool to be engaged", action.ID)
	}
	if action.RequiredToolID != "" && p.ctx.ActiveToolID != action.RequiredToolID {
		return platform.Fail("action %q requires tool %q, active tool %q",
			action.ID, action.RequiredToolID, p.ctx.ActiveToolID)
	}

	if res := p.checkRequirements(action.Requirements); !res.Valid {
		return res
	}
	for _, ex := range action.Excludes {
		if ex.Matches(p.ctx.RequirementValue(ex.Key)) {
			return platform.Fail("action %q excluded: %s is %s",
				action.ID, ex.Key, p.ctx.RequirementValue(ex.Key))
		}
	}
	if res := p.checkRequirements(req.AdditionalRequirements); !res.Valid {
		return res
	}

	if !homingActions[action.ID] {
		if res := p.checkLivePosition(); !res.Valid {
			return res
		}
	}

	return p.commit(req, nil)
}

// #endregion action

// #region rules

func (p *Pipeline) checkAxesHomed() platform.Result {
	homed := p.act.AxesHomed()
	var unhomed []string
	for _, ax := range hardware.HomedAxes {
		if !homed[ax] {
			unhomed = append(unhomed, string(ax))
		}
	}
	if len(unhomed) > 0 {
		return platform.Fail("axes not homed: %s", strings.Join(unhomed, ", "))
	}
	return platform.OK()
}

func (p *Pipeline) checkLivePosition() platform.Result {
	pos, err := p.act.Position()
	if err != nil {
		return platform.Fail("read live position: %v", err)
	}
	live := registry.LivePose{
		X: pos[hardware.AxisX],
		Y: pos[hardware.AxisY],
		Z: pos[hardware.AxisZ],
		V: pos[hardware.AxisV],
	}
	if msg := p.reg.ValidateMachinePosition(p.ctx.PositionID, live, p.ctx.ZHeightID); msg != "" {
		return platform.Fail("%s", msg)
	}
	return platform.OK()
}

func (p *Pipeline) checkRequirements(reqs []registry.Requirement) platform.Result {
	for _, r := range reqs {
		actual := p.ctx.RequirementValue(r.Key)
		if !r.Matches(actual) {
			return platform.Fail("requirement %s not met: expected %s, got %q",
				r.Key, r.Expected(), actual)
		}
	}
	return platform.OK()
}

// #endregion rules

// #region commit

// commit drives the state machine around execution. onSuccess applies the
// single context mutation owned by the pipeline; domain bookkeeping belongs
// to the caller, after a valid result.
func (p *Pipeline) commit(req Request, onSuccess func()) platform.Result {
	if p.state == platform.StateToolEngaged {
		// Engaged requests run in place; the machine never leaves the
		// engaged state for them.
		if req.Exec != nil {
			if err := req.Exec(); err != nil {
				return platform.Fail("execution failed: %v", err)
			}
		}
		if onSuccess != nil {
			onSuccess()
		}
		return platform.OK()
	}

	next, err := platform.Next(p.state, platform.BeginMotion)
	if err != nil {
		panic(fmt.Sprintf("pipeline: %v", err))
	}
	p.state = next
	p.ctx.PendingMove = &platform.MoveRequest{
		TargetPositionID: req.TargetPositionID,
		ActionID:         req.ActionID,
		Metadata:         req.Metadata,
	}

	if req.Exec != nil {
		if err := req.Exec(); err != nil {
			p.state, _ = platform.Next(p.state, platform.AbortMotion)
			p.ctx.PendingMove = nil
			return platform.Fail("execution failed: %v", err)
		}
	}

	done := platform.CompleteMotion
	if req.LeavesToolEngaged {
		done = platform.CompleteMotionEngaged
	}
	p.state, err = platform.Next(p.state, done)
	if err != nil {
		panic(fmt.Sprintf("pipeline: %v", err))
	}
	p.ctx.PendingMove = nil
	if onSuccess != nil {
		onSuccess()
	}
	return platform.OK()
}

// #endregion commit

// #region engagement

// RequestToolEngagement couples the manipulator to the payload at the
// current position. The position must allow engagement and its engagement
// requirements must hold.
func (p *Pipeline) RequestToolEngagement(toolID string, exec func() error) platform.Result {
	res := p.engage(toolID, exec)
	p.journal("engage", toolID, res)
	return res
}

func (p *Pipeline) engage(toolID string, exec func() error) platform.Result {
	if p.state != platform.StateIdle {
		return platform.Fail("cannot engage tool in state %s", p.state)
	}
	pos, err := p.reg.Get(p.ctx.PositionID)
	if err != nil {
		return platform.Fail("current position: %v", err)
	}
	if !pos.AllowsToolEngagement {
		return platform.Fail("position %q does not allow tool engagement", pos.ID)
	}
	if res := p.checkRequirements(pos.EngagementReqs); !res.Valid {
		return res
	}
	if p.ctx.ActiveToolID != toolID {
		return platform.Fail("engagement requires tool %q, active tool %q", toolID, p.ctx.ActiveToolID)
	}

	if exec != nil {
		if err := exec(); err != nil {
			return platform.Fail("execution failed: %v", err)
		}
	}
	next, err := platform.Next(p.state, platform.EngageTool)
	if err != nil {
		panic(fmt.Sprintf("pipeline: %v", err))
	}
	p.state = next
	p.ctx.EngagedToolID = toolID
	p.ctx.EngagedReadyPositionID = pos.ID
	if ts := p.ctx.ToolStates[toolID]; ts != nil {
		ts.Engaged = true
		ts.ReadyPositionID = pos.ID
	} else {
		p.ctx.ToolStates[toolID] = &platform.ToolStatus{
			ToolID: toolID, Engaged: true, ReadyPositionID: pos.ID,
		}
	}
	return platform.OK()
}

// RequestToolDisengagement releases the payload and returns to idle.
func (p *Pipeline) RequestToolDisengagement(exec func() error) platform.Result {
	res := p.disengage(exec)
	p.journal("disengage", p.ctx.EngagedToolID, res)
	return res
}

func (p *Pipeline) disengage(exec func() error) platform.Result {
	if p.state != platform.StateToolEngaged {
		return platform.Fail("cannot disengage tool in state %s", p.state)
	}
	if exec != nil {
		if err := exec(); err != nil {
			return platform.Fail("execution failed: %v", err)
		}
	}
	next, err := platform.Next(p.state, platform.DisengageTool)
	if err != nil {
		panic(fmt.Sprintf("pipeline: %v", err))
	}
	p.state = next
	if ts := p.ctx.ToolStates[p.ctx.EngagedToolID]; ts != nil {
		ts.Engaged = false
	}
	p.ctx.EngagedToolID = ""
	p.ctx.EngagedReadyPositionID = ""
	return platform.OK()
}

// #endregion engagement

// #region journal

func (p *Pipeline) journalDecision(req Request, before string, res platform.Result) {
	kind, target := "move", req.TargetPositionID
	if req.ActionID != "" {
		kind, target = "action", req.ActionID
	}
	p.journalFrom(kind, target, before, req.Metadata, res)
}

func (p *Pipeline) journal(kind, target string, res platform.Result) {
	p.journalFrom(kind, target, p.ctx.PositionID, nil, res)
}

func (p *Pipeline) journalFrom(kind, target, before string, meta map[string]string, res platform.Result) {
	decision := journal.DecisionOK
	if !res.Valid {
		decision = journal.DecisionRejected
	}
	err := p.jrn.LogOperation(journal.OperationEntry{
		Kind:           kind,
		Target:         target,
		Decision:       decision,
		Reason:         res.Reason,
		PositionBefore: before,
		PositionAfter:  p.ctx.PositionID,
		Metadata:       meta,
	})
	if err != nil {
		log.Printf("pipeline: journal: %v", err)
	}
}

// #endregion journal
