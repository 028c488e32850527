// Package hardware declares the collaborator interfaces the motion core
// drives. Concrete drivers (Duet HTTP board, serial scale) live outside this
// module; tests and the simulator provide in-memory implementations.
package hardware

// #region axes

// Axis names the physical axes the platform reports. X/Y/Z move the gantry,
// U is the tool changer lock, V the manipulator, W the trickler feed screw.
type Axis string

const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
	AxisZ Axis = "Z"
	AxisU Axis = "U"
	AxisV Axis = "V"
	AxisW Axis = "W"
)

// HomedAxes lists the axes that must report homed before a validated
// move or non-homing action may run.
var HomedAxes = []Axis{AxisX, AxisY, AxisZ, AxisU, AxisV}

// #endregion axes

// #region move

// Move is an absolute move target. Nil axis values are left untouched.
type Move struct {
	X *float64
	Y *float64
	Z *float64
	V *float64
	W *float64
}

// Delta is a relative offset per axis. Zero values move nothing.
type Delta struct {
	DX float64
	DY float64
	DZ float64
	DV float64
	DW float64
}

// F is a convenience for building optional move targets.
func F(v float64) *float64 { return &v }

// #endregion move

// #region actuator

// Actuator is the low-level motion board. All calls block until the board
// acknowledges completion; errors are hard I/O or command-rejection faults,
// never validation outcomes.
type Actuator interface {
	// MoveTo issues an absolute move at the given speed in mm/min.
	MoveTo(m Move, speed float64) error
	// MoveBy issues a relative move at the given speed in mm/min.
	MoveBy(d Delta, speed float64) error
	// Command sends a raw board command (G-code or macro call).
	Command(raw string) error
	// Position reports the current coordinates per axis.
	Position() (map[Axis]float64, error)
	// AxesHomed reports homed status per axis.
	AxesHomed() map[Axis]bool
}

// #endregion actuator

// #region scale

// Scale is the weight sensor. Weight with stable=true blocks until the
// reading settles; stable=false returns the immediate, possibly noisy value.
// The retry/acknowledgement serial protocol is entirely the driver's concern.
type Scale interface {
	Tare() error
	Weight(stable bool) (float64, error)
}

// #endregion scale
