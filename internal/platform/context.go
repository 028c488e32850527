// Package platform holds the mutable motion context, the single record of
// what the platform logically is right now, and the explicit control state
// machine that guards it. Only the validation pipeline and the domain
// operations layer mutate the context; every other component reads it.
package platform

import (
	"fmt"
	"strconv"

	"github.com/moldworks/trickler-controller/internal/layout"
	"github.com/moldworks/trickler-controller/internal/registry"
)

// #region payload

// PayloadState tags what the manipulator currently carries.
type PayloadState string

const (
	PayloadEmpty          PayloadState = "empty"
	PayloadMold           PayloadState = "mold_without_top_piston"
	PayloadMoldWithPiston PayloadState = "mold_with_top_piston"
)

// #endregion payload

// #region requests

// MoveRequest is a requested transition. Exactly one of TargetPositionID and
// ActionID is meaningful per request.
type MoveRequest struct {
	TargetPositionID string
	ActionID         string
	Metadata         map[string]string
}

// Result is the uniform outcome of every validated operation. Reason is
// non-empty if and only if the operation was rejected or aborted.
type Result struct {
	Valid  bool
	Reason string
}

// OK is the successful result.
func OK() Result { return Result{Valid: true} }

// Fail builds a rejection with a formatted reason.
func Fail(format string, args ...any) Result {
	return Result{Valid: false, Reason: fmt.Sprintf(format, args...)}
}

// #endregion requests

// #region tool

// ToolStatus tracks engagement state and the ready point for one tool.
type ToolStatus struct {
	ToolID          string
	Engaged         bool
	ReadyPositionID string
}

// #endregion tool

// #region context

// MotionContext is the sole mutable state of the platform session.
type MotionContext struct {
	PositionID   string
	ZHeightID    string
	ActiveToolID string
	PayloadState PayloadState

	ToolStates map[string]*ToolStatus

	// PendingMove is set only while a validated move executes. It is
	// asserted non-nil on entry to the moving state and cleared on return
	// to idle.
	PendingMove *MoveRequest

	// Engagement bookkeeping: the ready point and tool bound while the
	// manipulator is mechanically coupled to the payload.
	EngagedReadyPositionID string
	EngagedToolID          string

	CurrentMold *layout.Mold
	MoldOnScale bool

	Dispensers []*layout.PistonDispenser
	Deck       *layout.Deck
}

// NewContext creates a session context parked at the given position with an
// empty manipulator.
func NewContext(positionID string) *MotionContext {
	return &MotionContext{
		PositionID:   positionID,
		PayloadState: PayloadEmpty,
		ToolStates:   make(map[string]*ToolStatus),
	}
}

// RequirementValue exposes context attributes to the closed requirement
// predicate set.
func (c *MotionContext) RequirementValue(key registry.ReqKey) string {
	switch key {
	case registry.ReqPayloadState:
		return string(c.PayloadState)
	case registry.ReqMoldOnScale:
		return strconv.FormatBool(c.MoldOnScale)
	case registry.ReqActiveTool:
		return c.ActiveToolID
	case registry.ReqZHeight:
		return c.ZHeightID
	case registry.ReqPositionID:
		return c.PositionID
	default:
		return ""
	}
}

// Dispenser returns the dispenser with the given index, or nil.
func (c *MotionContext) Dispenser(index int) *layout.PistonDispenser {
	for _, d := range c.Dispensers {
		if d.Index == index {
			return d
		}
	}
	return nil
}

// #endregion context
