package ops

import (
	"fmt"

	"github.com/moldworks/trickler-controller/internal/hardware"
	"github.com/moldworks/trickler-controller/internal/registry"
)

// #region feed-rates

// Feed rates in mm/min. Fast covers open travel, medium covers approach
// moves near fixtures, slow covers loaded moves and engagement strokes.
const (
	FeedFast   = 5000.0
	FeedMedium = 2800.0
	FeedSlow   = 700.0
)

// Manipulator V-axis poses in mm.
const (
	manipOpen    = 66.0 // fork fully extended, clear of the payload
	manipCarry   = 30.0 // fork retracted under a seated mold
	manipPiston  = 21.0 // piston pickup stroke
	manipRelease = 8.0  // piston release stroke
	manipTamp    = 38.5 // tamping press depth
)

// #endregion feed-rates

// #region executor

// Executor turns validated operations into concrete motion sequences on the
// board. It performs no validation of its own; every public method assumes
// the gate already approved the operation and the platform stands at the
// documented start pose.
type Executor struct {
	act hardware.Actuator
	reg *registry.Registry
}

// NewExecutor builds an executor over the motion board.
func NewExecutor(act hardware.Actuator, reg *registry.Registry) *Executor {
	return &Executor{act: act, reg: reg}
}

// MoveToPose travels to a fully resolved pose at the given feed rate.
func (e *Executor) MoveToPose(pose registry.ResolvedPose, speed float64) error {
	return e.act.MoveTo(hardware.Move{
		X: hardware.F(pose.X),
		Y: hardware.F(pose.Y),
		Z: hardware.F(pose.Z),
		V: hardware.F(pose.V),
	}, speed)
}

// MoveToPosition resolves a registry position through the active z-height
// and travels there.
func (e *Executor) MoveToPosition(positionID, zHeightID string) error {
	pose, err := e.reg.ResolveCoordinates(positionID, zHeightID)
	if err != nil {
		return err
	}
	return e.MoveToPose(pose, FeedFast)
}

// ApplyZHeight moves only the Z axis to a preset height.
func (e *Executor) ApplyZHeight(z float64) error {
	return e.act.MoveTo(hardware.Move{Z: hardware.F(z)}, FeedMedium)
}

// #endregion executor

// #region mold-transfer

// PickMold lifts a mold out of its slot: extend the fork, drop to slot
// height, slide under the mold, retract the fork to seat it, slide out and
// rise to carry height, then return to the slot's ready pose.
func (e *Executor) PickMold(ready registry.ResolvedPose) error {
	steps := []step{
		{move: hardware.Move{V: hardware.F(manipOpen)}, speed: FeedMedium},
		{move: hardware.Move{Z: hardware.F(40)}, speed: FeedMedium},
		{delta: hardware.Delta{DY: 23}, speed: FeedSlow},
		{move: hardware.Move{V: hardware.F(manipCarry)}, speed: FeedSlow},
		{delta: hardware.Delta{DY: -23}, speed: FeedSlow},
		{move: hardware.Move{Z: hardware.F(95)}, speed: FeedMedium},
	}
	if err := e.run(steps); err != nil {
		return fmt.Errorf("pick mold: %w", err)
	}
	if err := e.MoveToPose(ready, FeedMedium); err != nil {
		return fmt.Errorf("pick mold: return to ready: %w", err)
	}
	return nil
}

// PlaceMold reverses PickMold: slide in over the slot, lower until the mold
// rests, extend the fork free, slide out, retract and rise.
func (e *Executor) PlaceMold(ready registry.ResolvedPose) error {
	steps := []step{
		{delta: hardware.Delta{DY: 23}, speed: FeedSlow},
		{move: hardware.Move{Z: hardware.F(40)}, speed: FeedSlow},
		{move: hardware.Move{V: hardware.F(manipOpen)}, speed: FeedSlow},
		{delta: hardware.Delta{DY: -23}, speed: FeedSlow},
		{move: hardware.Move{V: hardware.F(manipCarry)}, speed: FeedMedium},
		{move: hardware.Move{Z: hardware.F(95)}, speed: FeedMedium},
	}
	if err := e.run(steps); err != nil {
		return fmt.Errorf("place mold: %w", err)
	}
	if err := e.MoveToPose(ready, FeedMedium); err != nil {
		return fmt.Errorf("place mold: return to ready: %w", err)
	}
	return nil
}

// #endregion mold-transfer

// #region scale-transfer

// PlaceMoldOnScale tares the scale, then lowers the carried mold onto the
// pan through the scale enclosure. The Z travel limit is narrowed in two
// stages so a fault can never drive the fork into the pan. The platform
// finishes one millimeter short of the pan center, coupled to the mold.
func (e *Executor) PlaceMoldOnScale(scale hardware.Scale) error {
	if err := scale.Tare(); err != nil {
		return fmt.Errorf("place mold on scale: tare: %w", err)
	}
	steps := []step{
		{delta: hardware.Delta{DY: 38}, speed: FeedSlow},
		{move: hardware.Move{V: hardware.F(67)}, speed: FeedSlow},
		{raw: "M208 Z38:195"},
		{move: hardware.Move{Z: hardware.F(38)}, speed: FeedSlow},
		{delta: hardware.Delta{DY: 26}, speed: FeedSlow},
		{raw: "M208 Z28:195"},
		{move: hardware.Move{Z: hardware.F(28)}, speed: FeedSlow},
		{delta: hardware.Delta{DY: -1}, speed: FeedSlow},
	}
	if err := e.run(steps); err != nil {
		return fmt.Errorf("place mold on scale: %w", err)
	}
	return nil
}

// PickMoldFromScale reverses PlaceMoldOnScale and parks back at the scale
// ready pose with the mold on the fork.
func (e *Executor) PickMoldFromScale(ready registry.ResolvedPose) error {
	steps := []step{
		{delta: hardware.Delta{DY: 1}, speed: FeedSlow},
		{move: hardware.Move{Z: hardware.F(38)}, speed: FeedSlow},
		{raw: "M208 Z0:195"},
		{delta: hardware.Delta{DY: -26}, speed: FeedSlow},
		{move: hardware.Move{Z: hardware.F(ready.Z)}, speed: FeedSlow},
		{move: hardware.Move{V: hardware.F(manipCarry)}, speed: FeedSlow},
		{delta: hardware.Delta{DY: -38}, speed: FeedSlow},
	}
	if err := e.run(steps); err != nil {
		return fmt.Errorf("pick mold from scale: %w", err)
	}
	return nil
}

// #endregion scale-transfer

// #region piston

// RetrievePiston pulls one top piston out of a dispenser and seats it on the
// carried mold. The dwell after the slow approach lets the sprung dispenser
// stack settle before the stroke.
func (e *Executor) RetrievePiston(ready registry.ResolvedPose) error {
	steps := []step{
		{move: hardware.Move{Y: hardware.F(177.7)}, speed: FeedSlow},
		{raw: "M400"},
		{raw: "G4 S2"},
		{move: hardware.Move{V: hardware.F(manipPiston)}, speed: FeedSlow},
		{move: hardware.Move{Y: hardware.F(140)}, speed: FeedSlow},
		{move: hardware.Move{V: hardware.F(manipRelease)}, speed: FeedSlow},
	}
	if err := e.run(steps); err != nil {
		return fmt.Errorf("retrieve piston: %w", err)
	}
	if err := e.MoveToPose(ready, FeedMedium); err != nil {
		return fmt.Errorf("retrieve piston: return to ready: %w", err)
	}
	return nil
}

// Tamp presses the powder column in the mold on the scale with the fork tip
// and withdraws.
func (e *Executor) Tamp() error {
	steps := []step{
		{move: hardware.Move{V: hardware.F(manipTamp)}, speed: FeedSlow},
		{raw: "M400"},
		{move: hardware.Move{V: hardware.F(0)}, speed: FeedSlow},
	}
	if err := e.run(steps); err != nil {
		return fmt.Errorf("tamp: %w", err)
	}
	return nil
}

// #endregion piston

// #region homing-tooling

// HomeAll homes every axis.
func (e *Executor) HomeAll() error {
	return e.act.Command("G28")
}

// HomeManipulator homes the V axis only, via the board macro.
func (e *Executor) HomeManipulator() error {
	return e.act.Command(`M98 P"homev.g"`)
}

// HomeTrickler homes the W feed screw only, via the board macro.
func (e *Executor) HomeTrickler() error {
	return e.act.Command(`M98 P"homew.g"`)
}

// PickupTool loads the manipulator tool.
func (e *Executor) PickupTool() error {
	return e.act.Command("T0")
}

// ParkTool returns the active tool to its dock.
func (e *Executor) ParkTool() error {
	return e.act.Command("T-1")
}

// #endregion homing-tooling

// #region trickler

// TricklerFeeder adapts the board's W screw and agitator output to the
// dispensing loop. BeginFeed zeroes the screw position once per run; each
// Advance is issued as a relative move and waited to completion so the
// following scale read sees settled powder.
type TricklerFeeder struct {
	act hardware.Actuator
}

// Feeder returns the dispense-loop adapter for this board.
func (e *Executor) Feeder() *TricklerFeeder {
	return &TricklerFeeder{act: e.act}
}

// BeginFeed zeroes the feed screw coordinate.
func (f *TricklerFeeder) BeginFeed() error {
	return f.act.Command("G92 W0")
}

// Advance turns the feed screw by step millimeters.
func (f *TricklerFeeder) Advance(step float64) error {
	for _, raw := range []string{
		"G91",
		fmt.Sprintf("G1 W%.4f F200", step),
		"M400",
		"G90",
	} {
		if err := f.act.Command(raw); err != nil {
			return err
		}
	}
	return nil
}

// Agitate switches the vibration motor output.
func (f *TricklerFeeder) Agitate(on bool) error {
	if on {
		return f.act.Command("M42 P0 S0.5 F20000")
	}
	return f.act.Command("M42 P0 S0.0 F20000")
}

// #endregion trickler

// #region steps

// step is one element of a motion sequence: exactly one of move, delta or
// raw is meaningful.
type step struct {
	move  hardware.Move
	delta hardware.Delta
	raw   string
	speed float64
}

func (e *Executor) run(steps []step) error {
	for _, s := range steps {
		var err error
		switch {
		case s.raw != "":
			err = e.act.Command(s.raw)
		case s.delta != (hardware.Delta{}):
			err = e.act.MoveBy(s.delta, s.speed)
		default:
			err = e.act.MoveTo(s.move, s.speed)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// #endregion steps
