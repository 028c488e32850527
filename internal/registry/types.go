package registry

import (
	"fmt"
	"sort"
	"strings"
)

// #region position-type

// PositionType classifies ready positions by the station they serve.
type PositionType string

const (
	GlobalReady    PositionType = "GLOBAL_READY"
	MoldReady      PositionType = "MOLD_READY"
	DispenserReady PositionType = "DISPENSER_READY"
	ScaleReady     PositionType = "SCALE_READY"
)

var positionTypes = map[string]PositionType{
	string(GlobalReady):    GlobalReady,
	string(MoldReady):      MoldReady,
	string(DispenserReady): DispenserReady,
	string(ScaleReady):     ScaleReady,
}

// #endregion position-type

// #region coordinate

// CoordKind distinguishes how a declared axis value is resolved.
type CoordKind int

const (
	// CoordUnconfigured marks an axis with no declared value; live-position
	// validation skips it.
	CoordUnconfigured CoordKind = iota
	// CoordFixed is a concrete coordinate in mm.
	CoordFixed
	// CoordFromZHeight resolves through the named z-height preset active in
	// the motion context at validation time.
	CoordFromZHeight
)

// Coordinate is one axis of a declared position.
type Coordinate struct {
	Kind  CoordKind
	Value float64 // meaningful only for CoordFixed
}

// Fixed builds a concrete coordinate.
func Fixed(v float64) Coordinate { return Coordinate{Kind: CoordFixed, Value: v} }

// FromZHeight builds the preset-resolved sentinel.
func FromZHeight() Coordinate { return Coordinate{Kind: CoordFromZHeight} }

// Coordinates declares the physical pose of a position. V is the
// manipulator axis.
type Coordinates struct {
	X Coordinate
	Y Coordinate
	Z Coordinate
	V Coordinate
}

// #endregion coordinate

// #region z-policy

// ZHeightPolicy constrains which named z-height presets are acceptable when
// moving to a position.
type ZHeightPolicy struct {
	Required string
	Allowed  []string
}

// Empty reports whether the policy constrains nothing.
func (p ZHeightPolicy) Empty() bool {
	return p.Required == "" && len(p.Allowed) == 0
}

// Validate returns a human-readable problem with the current z-height id, or
// "" when the policy is satisfied.
func (p ZHeightPolicy) Validate(current string) string {
	if p.Empty() {
		return ""
	}
	if current == "" {
		return "current z-height is not set"
	}
	if p.Required != "" {
		if current != p.Required {
			return fmt.Sprintf("move requires z-height %q, current %q", p.Required, current)
		}
		return ""
	}
	for _, a := range p.Allowed {
		if a == current {
			return ""
		}
	}
	allowed := append([]string(nil), p.Allowed...)
	sort.Strings(allowed)
	return fmt.Sprintf("z-height %q not permitted, allowed: %s", current, strings.Join(allowed, ", "))
}

// #endregion z-policy

// #region requirement

// ReqKey names a context attribute a requirement or exclude may test. The
// set is closed: configuration naming any other key fails at load time.
type ReqKey string

const (
	ReqPayloadState ReqKey = "payload_state"
	ReqMoldOnScale  ReqKey = "mold_on_scale"
	ReqActiveTool   ReqKey = "active_tool_id"
	ReqZHeight      ReqKey = "z_height_id"
	ReqPositionID   ReqKey = "position_id"
)

var reqKeys = map[string]ReqKey{
	string(ReqPayloadState): ReqPayloadState,
	string(ReqMoldOnScale):  ReqMoldOnScale,
	string(ReqActiveTool):   ReqActiveTool,
	string(ReqZHeight):      ReqZHeight,
	string(ReqPositionID):   ReqPositionID,
}

// Requirement is one typed predicate over the motion context. A single value
// is an equality check; multiple values are set membership.
type Requirement struct {
	Key    ReqKey
	Values []string
}

// Matches reports whether the actual attribute value satisfies the
// requirement.
func (r Requirement) Matches(actual string) bool {
	for _, v := range r.Values {
		if v == actual {
			return true
		}
	}
	return false
}

// Expected renders the acceptable values for failure reasons.
func (r Requirement) Expected() string {
	if len(r.Values) == 1 {
		return r.Values[0]
	}
	vals := append([]string(nil), r.Values...)
	sort.Strings(vals)
	return "one of [" + strings.Join(vals, ", ") + "]"
}

// #endregion requirement

// #region descriptors

// StringSet is a small set of identifiers.
type StringSet map[string]struct{}

// Has reports membership.
func (s StringSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in sorted order, for stable failure reasons.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PositionDescriptor describes one logical position the platform can occupy.
// Positions capture the whole machine pose, not just gantry coordinates:
// payload status and manipulator state requirements ride along.
type PositionDescriptor struct {
	ID                   string
	Type                 PositionType
	AllowedOrigins       StringSet
	AllowedDestinations  StringSet
	Coordinates          *Coordinates
	Requirements         []Requirement
	ZHeightPolicy        ZHeightPolicy
	AllowsToolEngagement bool
	EngagementReqs       []Requirement
	EngagementActions    StringSet
	ResourceID           string
	Description          string
	Metadata             map[string]string
}

// ActionDescriptor describes an auxiliary action validated by the pipeline.
type ActionDescriptor struct {
	ID                  string
	PositionScope       StringSet
	Requirements        []Requirement
	Excludes            []Requirement
	RequiredToolID      string
	RequiresToolEngaged bool
	BlockedWhenEngaged  bool
	Description         string
}

// Tolerance is the per-axis live-position tolerance in mm.
type Tolerance struct {
	X float64
	Y float64
	Z float64
	V float64
}

// DefaultTolerance is applied when the configuration declares none.
var DefaultTolerance = Tolerance{X: 0.2, Y: 0.2, Z: 0.2, V: 0.2}

// #endregion descriptors
