// Package ops is the domain operations layer: the workflow verbs the rest of
// the system calls. Every verb checks its domain preconditions, submits the
// operation to the validation gate, and applies the bookkeeping mutation only
// after the gate reports success. Physical sequencing lives in the executor;
// rule evaluation lives in the pipeline; this layer owns the mold, scale and
// dispenser bookkeeping that ties them together.
package ops

import (
	"context"
	"fmt"

	"github.com/moldworks/trickler-controller/internal/dispense"
	"github.com/moldworks/trickler-controller/internal/hardware"
	"github.com/moldworks/trickler-controller/internal/journal"
	"github.com/moldworks/trickler-controller/internal/pipeline"
	"github.com/moldworks/trickler-controller/internal/platform"
	"github.com/moldworks/trickler-controller/internal/registry"
)

// #region identifiers

// ToolManipulator is the only tool the platform supports.
const ToolManipulator = "manipulator"

// Well-known position and z-height identifiers from the registry
// configuration.
const (
	PosGlobalReady  = "global_ready"
	PosScaleReady   = "scale_ready"
	PosScaleActive  = "scale_active"
	ZTransferSafe   = "mold_transfer_safe"
	moldReadyPrefix = "mold_ready_"
)

// Action identifiers.
const (
	ActionPickUpMold        = "pick_up_mold"
	ActionPutDownMold       = "put_down_mold"
	ActionPlaceMoldOnScale  = "place_mold_on_scale"
	ActionPickMoldFromScale = "pick_mold_from_scale"
	ActionRetrievePiston    = "retrieve_piston"
	ActionTampMold          = "tamp_mold"
	ActionDispense          = "trickler_dispense"
	ActionHomeAll           = "home_all"
	ActionHomeManipulator   = "home_manipulator"
	ActionHomeTrickler      = "home_trickler"
	ActionPickupTool        = "pickup_tool"
	ActionParkTool          = "park_tool"
)

// #endregion identifiers

// #region controller

// Controller exposes the workflow operations for one session.
type Controller struct {
	pipe  *pipeline.Pipeline
	exec  *Executor
	scale hardware.Scale
	jrn   *journal.Journal
	dcfg  dispense.Config
}

// NewController wires the operations layer. jrn may be nil; dcfg zero values
// take the dispensing defaults.
func NewController(pipe *pipeline.Pipeline, exec *Executor, scale hardware.Scale, jrn *journal.Journal, dcfg dispense.Config) *Controller {
	return &Controller{pipe: pipe, exec: exec, scale: scale, jrn: jrn, dcfg: dcfg}
}

func (c *Controller) ctx() *platform.MotionContext { return c.pipe.Context() }
func (c *Controller) reg() *registry.Registry      { return c.pipe.Registry() }

// #endregion controller

// #region moves

// MoveTo travels to any registry position through the validation gate.
func (c *Controller) MoveTo(positionID string) platform.Result {
	zh := c.ctx().ZHeightID
	return c.pipe.Run(pipeline.Request{
		TargetPositionID: positionID,
		Exec: func() error {
			return c.exec.MoveToPosition(positionID, zh)
		},
	})
}

// MoveToMoldSlot travels to the ready point of a mold slot.
func (c *Controller) MoveToMoldSlot(slotID string) platform.Result {
	return c.MoveTo(moldReadyPrefix + slotID)
}

// MoveToScale travels to the scale ready point.
func (c *Controller) MoveToScale() platform.Result {
	return c.MoveTo(PosScaleReady)
}

// MoveToDispenser travels to the ready point of a piston dispenser.
func (c *Controller) MoveToDispenser(index int) platform.Result {
	return c.MoveTo(fmt.Sprintf("dispenser_ready_%d", index))
}

// MoveToGlobalReady travels to the central parking position.
func (c *Controller) MoveToGlobalReady() platform.Result {
	return c.MoveTo(PosGlobalReady)
}

// ApplyZHeight moves the gantry to a named z-height preset and records it as
// the active policy height.
func (c *Controller) ApplyZHeight(id string) platform.Result {
	if c.pipe.State() != platform.StateIdle {
		return platform.Fail("cannot change z-height in state %s", c.pipe.State())
	}
	z, ok := c.reg().ZHeight(id)
	if !ok {
		return platform.Fail("unknown z-height %q", id)
	}
	if err := c.exec.ApplyZHeight(z); err != nil {
		return platform.Fail("apply z-height: %v", err)
	}
	c.ctx().ZHeightID = id
	return platform.OK()
}

// #endregion moves

// #region mold-transfer

// PickMold lifts the mold out of the slot the platform stands at.
func (c *Controller) PickMold(slotID string) platform.Result {
	ctx := c.ctx()
	if ctx.Deck == nil {
		return platform.Fail("no deck configured")
	}
	mold, ok := ctx.Deck.Mold(slotID)
	if !ok {
		return platform.Fail("unknown mold slot %q", slotID)
	}
	if !mold.Valid {
		return platform.Fail("mold slot %q holds no valid mold", slotID)
	}
	if mold.HasTopPiston {
		return platform.Fail("mold %q is already assembled", mold.Name)
	}
	if ctx.PayloadState != platform.PayloadEmpty {
		return platform.Fail("manipulator already carries %s", ctx.PayloadState)
	}
	if ctx.PositionID != mold.ReadyPos {
		return platform.Fail("pick from slot %q requires position %q, at %q",
			slotID, mold.ReadyPos, ctx.PositionID)
	}

	pose, err := c.reg().ResolveCoordinates(mold.ReadyPos, ctx.ZHeightID)
	if err != nil {
		return platform.Fail("%v", err)
	}
	res := c.pipe.Run(pipeline.Request{
		ActionID: ActionPickUpMold,
		Exec:     func() error { return c.exec.PickMold(pose) },
	})
	if !res.Valid {
		return res
	}

	ctx.CurrentMold = mold
	ctx.PayloadState = platform.PayloadMold
	return res
}

// PlaceMold sets the carried mold back into its slot.
func (c *Controller) PlaceMold(slotID string) platform.Result {
	ctx := c.ctx()
	mold := ctx.CurrentMold
	if mold == nil {
		return platform.Fail("no mold carried")
	}
	if mold.SlotID() != slotID {
		return platform.Fail("carried mold belongs to slot %q, not %q", mold.SlotID(), slotID)
	}
	if ctx.PositionID != mold.ReadyPos {
		return platform.Fail("place into slot %q requires position %q, at %q",
			slotID, mold.ReadyPos, ctx.PositionID)
	}

	pose, err := c.reg().ResolveCoordinates(mold.ReadyPos, ctx.ZHeightID)
	if err != nil {
		return platform.Fail("%v", err)
	}
	res := c.pipe.Run(pipeline.Request{
		ActionID: ActionPutDownMold,
		Exec:     func() error { return c.exec.PlaceMold(pose) },
	})
	if !res.Valid {
		return res
	}

	ctx.CurrentMold = nil
	ctx.PayloadState = platform.PayloadEmpty
	return res
}

// #endregion mold-transfer

// #region scale

// PlaceMoldOnScale tares the scale, lowers the carried mold onto the pan and
// leaves the manipulator engaged under it. Only bare molds may be weighed.
func (c *Controller) PlaceMoldOnScale() platform.Result {
	ctx := c.ctx()
	if ctx.CurrentMold == nil {
		return platform.Fail("no mold carried")
	}
	if ctx.PayloadState != platform.PayloadMold {
		return platform.Fail("scale transfer requires a bare mold, carrying %s", ctx.PayloadState)
	}
	if ctx.MoldOnScale {
		return platform.Fail("a mold already sits on the scale")
	}
	if ctx.PositionID != PosScaleReady {
		return platform.Fail("scale transfer starts at %q, at %q", PosScaleReady, ctx.PositionID)
	}

	res := c.pipe.Run(pipeline.Request{
		ActionID: ActionPlaceMoldOnScale,
		Exec:     func() error { return c.exec.PlaceMoldOnScale(c.scale) },
	})
	if !res.Valid {
		return res
	}

	// Engagement requirements read the post-placement context, so the
	// mutations apply first and unwind if the engagement is refused.
	prevPos := ctx.PositionID
	prevPayload := ctx.PayloadState
	ctx.PositionID = PosScaleActive
	ctx.MoldOnScale = true
	ctx.PayloadState = platform.PayloadEmpty
	if res = c.pipe.RequestToolEngagement(ToolManipulator, nil); !res.Valid {
		ctx.PositionID = prevPos
		ctx.MoldOnScale = false
		ctx.PayloadState = prevPayload
		return res
	}
	return res
}

// PickMoldFromScale lifts the mold off the pan, disengages and parks back at
// the scale ready point with the mold on the fork.
func (c *Controller) PickMoldFromScale() platform.Result {
	ctx := c.ctx()
	if !ctx.MoldOnScale || ctx.CurrentMold == nil {
		return platform.Fail("no mold on the scale")
	}
	if c.pipe.State() != platform.StateToolEngaged {
		return platform.Fail("scale pickup requires the engaged manipulator, state %s", c.pipe.State())
	}

	pose, err := c.reg().ResolveCoordinates(PosScaleReady, ctx.ZHeightID)
	if err != nil {
		return platform.Fail("%v", err)
	}
	res := c.pipe.Run(pipeline.Request{
		ActionID: ActionPickMoldFromScale,
		Exec:     func() error { return c.exec.PickMoldFromScale(pose) },
	})
	if !res.Valid {
		return res
	}
	if res = c.pipe.RequestToolDisengagement(nil); !res.Valid {
		return res
	}

	ctx.PositionID = PosScaleReady
	ctx.MoldOnScale = false
	if ctx.CurrentMold.HasTopPiston {
		ctx.PayloadState = platform.PayloadMoldWithPiston
	} else {
		ctx.PayloadState = platform.PayloadMold
	}
	return res
}

// Dispense runs the closed-loop trickler until the mold on the scale holds
// the target mass. The scale was tared at placement, so readings are net
// powder mass. Cancel ctx to stop a run early.
func (c *Controller) Dispense(runCtx context.Context, target float64) platform.Result {
	mctx := c.ctx()
	mold := mctx.CurrentMold
	if !mctx.MoldOnScale || mold == nil {
		return platform.Fail("no mold on the scale")
	}
	if mold.HasTopPiston {
		return platform.Fail("mold %q is already assembled", mold.Name)
	}
	if mold.MaxWeight > 0 && target > mold.MaxWeight {
		return platform.Fail("target %.4fg exceeds mold max weight %.4fg", target, mold.MaxWeight)
	}

	var final float64
	res := c.pipe.Run(pipeline.Request{
		ActionID: ActionDispense,
		Metadata: map[string]string{"target_grams": fmt.Sprintf("%.4f", target)},
		Exec: func() error {
			feeder := c.exec.Feeder()
			if err := feeder.BeginFeed(); err != nil {
				return err
			}
			dc := dispense.New(feeder, c.scale, c.dcfg, c.jrn)
			out, err := dc.Run(runCtx, target)
			final = out.FinalWeight
			return err
		},
	})
	if !res.Valid {
		return res
	}

	mold.TargetWeight = target
	// Readings are cumulative net of the placement tare; record only the
	// mass this run added.
	if added := final - mold.CurrentWeight; added > 0 {
		if err := mold.AddWeight(added); err != nil {
			return platform.Fail("record dispensed mass: %v", err)
		}
	}
	return res
}

// Tamp presses the powder column in the mold on the scale.
func (c *Controller) Tamp() platform.Result {
	ctx := c.ctx()
	if !ctx.MoldOnScale || ctx.CurrentMold == nil {
		return platform.Fail("no mold on the scale")
	}
	if ctx.CurrentMold.HasTopPiston {
		return platform.Fail("mold %q is already assembled", ctx.CurrentMold.Name)
	}
	return c.pipe.Run(pipeline.Request{
		ActionID: ActionTampMold,
		Exec:     func() error { return c.exec.Tamp() },
	})
}

// #endregion scale

// #region piston

// RetrievePiston pulls a top piston from a dispenser and seats it on the
// carried mold, consuming one piston from the stack.
func (c *Controller) RetrievePiston(index int) platform.Result {
	ctx := c.ctx()
	disp := ctx.Dispenser(index)
	if disp == nil {
		return platform.Fail("unknown dispenser %d", index)
	}
	if disp.Remaining <= 0 {
		return platform.Fail("dispenser %d is empty", index)
	}
	mold := ctx.CurrentMold
	if mold == nil || ctx.PayloadState != platform.PayloadMold {
		return platform.Fail("piston retrieval requires a carried bare mold, payload %s", ctx.PayloadState)
	}
	if ctx.PositionID != disp.ReadyPos {
		return platform.Fail("dispenser %d requires position %q, at %q",
			index, disp.ReadyPos, ctx.PositionID)
	}

	pose, err := c.reg().ResolveCoordinates(disp.ReadyPos, ctx.ZHeightID)
	if err != nil {
		return platform.Fail("%v", err)
	}
	res := c.pipe.Run(pipeline.Request{
		ActionID: ActionRetrievePiston,
		Exec:     func() error { return c.exec.RetrievePiston(pose) },
	})
	if !res.Valid {
		return res
	}

	if err := disp.RemovePiston(); err != nil {
		return platform.Fail("%v", err)
	}
	mold.HasTopPiston = true
	ctx.PayloadState = platform.PayloadMoldWithPiston
	return res
}

// #endregion piston

// #region homing-tooling

// HomeAll homes every axis, then parks at the global ready point at the
// transfer-safe height and resets the logical position to match.
func (c *Controller) HomeAll() platform.Result {
	res := c.pipe.Run(pipeline.Request{
		ActionID: ActionHomeAll,
		Exec: func() error {
			if err := c.exec.HomeAll(); err != nil {
				return err
			}
			return c.exec.MoveToPosition(PosGlobalReady, ZTransferSafe)
		},
	})
	if !res.Valid {
		return res
	}
	c.ctx().PositionID = PosGlobalReady
	c.ctx().ZHeightID = ZTransferSafe
	return res
}

// HomeManipulator homes the V axis only.
func (c *Controller) HomeManipulator() platform.Result {
	return c.pipe.Run(pipeline.Request{
		ActionID: ActionHomeManipulator,
		Exec:     func() error { return c.exec.HomeManipulator() },
	})
}

// HomeTrickler homes the W feed screw only.
func (c *Controller) HomeTrickler() platform.Result {
	return c.pipe.Run(pipeline.Request{
		ActionID: ActionHomeTrickler,
		Exec:     func() error { return c.exec.HomeTrickler() },
	})
}

// PickupTool loads a tool. Only the manipulator identity exists on this
// platform; any other id is rejected before hardware is touched.
func (c *Controller) PickupTool(toolID string) platform.Result {
	if toolID != ToolManipulator {
		return platform.Fail("unsupported tool %q, only %q exists", toolID, ToolManipulator)
	}
	if c.ctx().ActiveToolID != "" {
		return platform.Fail("tool %q already active", c.ctx().ActiveToolID)
	}
	res := c.pipe.Run(pipeline.Request{
		ActionID: ActionPickupTool,
		Exec:     func() error { return c.exec.PickupTool() },
	})
	if !res.Valid {
		return res
	}
	c.ctx().ActiveToolID = ToolManipulator
	return res
}

// ParkTool docks the active tool.
func (c *Controller) ParkTool() platform.Result {
	if c.ctx().ActiveToolID == "" {
		return platform.Fail("no tool active")
	}
	res := c.pipe.Run(pipeline.Request{
		ActionID: ActionParkTool,
		Exec:     func() error { return c.exec.ParkTool() },
	})
	if !res.Valid {
		return res
	}
	c.ctx().ActiveToolID = ""
	return res
}

// #endregion homing-tooling
