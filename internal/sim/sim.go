// Package sim provides in-memory stand-ins for the motion board and the
// scale. The simulated actuator tracks coordinates and homed flags, records
// every raw command, and understands the homing and feed commands the
// executor emits so full workflows run without hardware.
package sim

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/moldworks/trickler-controller/internal/hardware"
)

// #region actuator

// Actuator is a simulated motion board.
type Actuator struct {
	mu       sync.Mutex
	pos      map[hardware.Axis]float64
	homed    map[hardware.Axis]bool
	commands []string

	// FeedHook, when set, is called with the feed distance of each
	// relative W move so a simulated scale can accumulate mass.
	FeedHook func(mm float64)

	relative bool
}

// NewActuator builds an actuator with all axes at zero and nothing homed.
func NewActuator() *Actuator {
	return &Actuator{
		pos:   map[hardware.Axis]float64{},
		homed: map[hardware.Axis]bool{},
	}
}

// HomeAll marks every axis homed, as a physical pre-homed bench would be.
func (a *Actuator) HomeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.homeAllLocked()
}

func (a *Actuator) homeAllLocked() {
	for _, ax := range []hardware.Axis{
		hardware.AxisX, hardware.AxisY, hardware.AxisZ,
		hardware.AxisU, hardware.AxisV, hardware.AxisW,
	} {
		a.homed[ax] = true
		a.pos[ax] = 0
	}
}

// SetPosition overrides the tracked coordinate of one axis.
func (a *Actuator) SetPosition(ax hardware.Axis, v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos[ax] = v
}

// Commands returns a copy of every raw command received so far.
func (a *Actuator) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.commands))
	copy(out, a.commands)
	return out
}

// MoveTo applies an absolute move.
func (a *Actuator) MoveTo(m hardware.Move, speed float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if speed <= 0 {
		return fmt.Errorf("invalid feed rate %v", speed)
	}
	if m.X != nil {
		a.pos[hardware.AxisX] = *m.X
	}
	if m.Y != nil {
		a.pos[hardware.AxisY] = *m.Y
	}
	if m.Z != nil {
		a.pos[hardware.AxisZ] = *m.Z
	}
	if m.V != nil {
		a.pos[hardware.AxisV] = *m.V
	}
	if m.W != nil {
		a.pos[hardware.AxisW] = *m.W
	}
	return nil
}

// MoveBy applies a relative move.
func (a *Actuator) MoveBy(d hardware.Delta, speed float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if speed <= 0 {
		return fmt.Errorf("invalid feed rate %v", speed)
	}
	a.pos[hardware.AxisX] += d.DX
	a.pos[hardware.AxisY] += d.DY
	a.pos[hardware.AxisZ] += d.DZ
	a.pos[hardware.AxisV] += d.DV
	a.pos[hardware.AxisW] += d.DW
	if d.DW != 0 && a.FeedHook != nil {
		a.FeedHook(d.DW)
	}
	return nil
}

// Command records a raw board command and emulates the handful the executor
// relies on for state.
func (a *Actuator) Command(raw string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = append(a.commands, raw)

	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "G28":
		a.homeAllLocked()
	case strings.Contains(trimmed, `homev.g`):
		a.homed[hardware.AxisV] = true
		a.pos[hardware.AxisV] = 0
	case strings.Contains(trimmed, `homew.g`):
		a.homed[hardware.AxisW] = true
		a.pos[hardware.AxisW] = 0
	case trimmed == "G91":
		a.relative = true
	case trimmed == "G90":
		a.relative = false
	case strings.HasPrefix(trimmed, "G92 W"):
		v, err := strconv.ParseFloat(strings.TrimPrefix(trimmed, "G92 W"), 64)
		if err != nil {
			return fmt.Errorf("bad G92: %q", raw)
		}
		a.pos[hardware.AxisW] = v
	case strings.HasPrefix(trimmed, "G1 W"):
		rest := strings.TrimPrefix(trimmed, "G1 W")
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			rest = rest[:i]
		}
		v, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return fmt.Errorf("bad G1 W: %q", raw)
		}
		if a.relative {
			a.pos[hardware.AxisW] += v
			if a.FeedHook != nil {
				a.FeedHook(v)
			}
		} else {
			a.pos[hardware.AxisW] = v
		}
	}
	return nil
}

// Position reports every tracked coordinate.
func (a *Actuator) Position() (map[hardware.Axis]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[hardware.Axis]float64, len(a.pos))
	for ax, v := range a.pos {
		out[ax] = v
	}
	return out, nil
}

// AxesHomed reports homed flags.
func (a *Actuator) AxesHomed() map[hardware.Axis]bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[hardware.Axis]bool, len(a.homed))
	for ax, v := range a.homed {
		out[ax] = v
	}
	return out
}

// #endregion actuator

// #region scale

// Scale is a simulated weight sensor with settable mass and fault injection.
type Scale struct {
	mu            sync.Mutex
	mass          float64
	noise         float64
	tares         int
	failNextReads int
}

// NewScale builds an empty simulated scale.
func NewScale() *Scale { return &Scale{} }

// SetMass sets the settled mass on the pan.
func (s *Scale) SetMass(g float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mass = g
}

// AddMass adds to the settled mass, as a feed hook target.
func (s *Scale) AddMass(g float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mass += g
}

// SetNoise sets an offset applied to unstable readings.
func (s *Scale) SetNoise(g float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noise = g
}

// FailNextReads makes the next n reads return an error.
func (s *Scale) FailNextReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextReads = n
}

// Tares reports how many times Tare ran.
func (s *Scale) Tares() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tares
}

// Tare zeroes the scale.
func (s *Scale) Tare() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tares++
	s.mass = 0
	return nil
}

// Weight reads the pan. Stable reads return the settled mass; unstable reads
// include the configured noise offset.
func (s *Scale) Weight(stable bool) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNextReads > 0 {
		s.failNextReads--
		return 0, fmt.Errorf("scale read timeout")
	}
	if stable {
		return s.mass, nil
	}
	return s.mass + s.noise, nil
}

// #endregion scale
