package platform

import "fmt"

// #region states

// State is the control state of the motion platform.
type State int

const (
	// StateIdle: parked at a logical position, accepting requests.
	StateIdle State = iota
	// StateMoving: a validated move is executing; everything else is refused.
	StateMoving
	// StateToolEngaged: the manipulator is mechanically coupled to the
	// payload; the platform may not leave the current ready point.
	StateToolEngaged
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMoving:
		return "moving"
	case StateToolEngaged:
		return "tool_engaged"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// #endregion states

// #region events

// Event is a requested state transition.
type Event int

const (
	BeginMotion Event = iota
	CompleteMotion
	CompleteMotionEngaged
	EngageTool
	DisengageTool
	AbortMotion
)

func (e Event) String() string {
	switch e {
	case BeginMotion:
		return "begin_motion"
	case CompleteMotion:
		return "complete_motion"
	case CompleteMotionEngaged:
		return "complete_motion_engaged"
	case EngageTool:
		return "engage_tool"
	case DisengageTool:
		return "disengage_tool"
	case AbortMotion:
		return "abort_motion"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// #endregion events

// #region transition

// Next returns the state after applying an event, or an error when the
// transition is not part of the machine. Only the validation pipeline calls
// this; an illegal transition there is a logic defect, not a runtime
// condition.
func Next(s State, e Event) (State, error) {
	switch {
	case s == StateIdle && e == BeginMotion:
		return StateMoving, nil
	case s == StateMoving && e == CompleteMotion:
		return StateIdle, nil
	case s == StateMoving && e == CompleteMotionEngaged:
		return StateToolEngaged, nil
	case s == StateMoving && e == AbortMotion:
		return StateIdle, nil
	case s == StateIdle && e == EngageTool:
		return StateToolEngaged, nil
	case s == StateToolEngaged && e == DisengageTool:
		return StateIdle, nil
	default:
		return s, fmt.Errorf("illegal transition %s from %s", e, s)
	}
}

// #endregion transition
