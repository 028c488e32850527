// Package registry is the immutable catalog of legal logical positions,
// auxiliary actions, z-height presets and coordinate tolerances. It is built
// once from configuration at startup and read-only afterwards.
package registry

import (
	"fmt"
	"sort"
	"strings"
)

// #region registry

// Registry owns every position and action descriptor.
type Registry struct {
	positions map[string]*PositionDescriptor
	order     []string // file order, for deterministic FindFirstOfType
	actions   map[string]*ActionDescriptor
	zHeights  map[string]float64
	tolerance Tolerance
}

func newRegistry(
	positions []*PositionDescriptor,
	actions map[string]*ActionDescriptor,
	zHeights map[string]float64,
	tol Tolerance,
) *Registry {
	r := &Registry{
		positions: make(map[string]*PositionDescriptor, len(positions)),
		order:     make([]string, 0, len(positions)),
		actions:   actions,
		zHeights:  zHeights,
		tolerance: tol,
	}
	for _, p := range positions {
		r.positions[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	return r
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (*PositionDescriptor, error) {
	p, ok := r.positions[id]
	if !ok {
		return nil, fmt.Errorf("unknown position identifier %q", id)
	}
	return p, nil
}

// Has is the non-failing existence check.
func (r *Registry) Has(id string) bool {
	_, ok := r.positions[id]
	return ok
}

// FindFirstOfType returns the first position of the given type in
// configuration order, or nil.
func (r *Registry) FindFirstOfType(t PositionType) *PositionDescriptor {
	for _, id := range r.order {
		if p := r.positions[id]; p.Type == t {
			return p
		}
	}
	return nil
}

// Action returns the descriptor for an action id.
func (r *Registry) Action(id string) (*ActionDescriptor, error) {
	a, ok := r.actions[id]
	if !ok {
		return nil, fmt.Errorf("unknown action identifier %q", id)
	}
	return a, nil
}

// PositionIDs returns every position id in configuration order.
func (r *Registry) PositionIDs() []string {
	return append([]string(nil), r.order...)
}

// ActionIDs returns every action id, sorted.
func (r *Registry) ActionIDs() []string {
	out := make([]string, 0, len(r.actions))
	for id := range r.actions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ZHeight returns the coordinate for a named z-height preset.
func (r *Registry) ZHeight(id string) (float64, bool) {
	z, ok := r.zHeights[id]
	return z, ok
}

// ZHeightIDs returns the configured preset names, sorted.
func (r *Registry) ZHeightIDs() []string {
	out := make([]string, 0, len(r.zHeights))
	for id := range r.zHeights {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Tolerance returns the per-axis live-position tolerance.
func (r *Registry) Tolerance() Tolerance { return r.tolerance }

// #endregion registry

// #region live-check

// LivePose is the actuator's reported pose on the validated axes.
type LivePose struct {
	X float64
	Y float64
	Z float64
	V float64
}

// ValidateMachinePosition compares the reported pose against the declared
// coordinates of a position. Unconfigured axes are skipped; the z-height
// sentinel resolves through the preset table using the context's current
// z-height id. Returns "" when within tolerance on every axis, otherwise a
// mismatch description naming the offending axis.
func (r *Registry) ValidateMachinePosition(positionID string, live LivePose, zHeightID string) string {
	pos, err := r.Get(positionID)
	if err != nil {
		return err.Error()
	}
	if pos.Coordinates == nil {
		return ""
	}

	check := func(axis string, decl Coordinate, actual, tol float64) string {
		expected := decl.Value
		switch decl.Kind {
		case CoordUnconfigured:
			return ""
		case CoordFromZHeight:
			if zHeightID == "" {
				return fmt.Sprintf("%s coordinate requires a z-height but none is set", axis)
			}
			z, ok := r.zHeights[zHeightID]
			if !ok {
				return fmt.Sprintf("unknown z-height %q", zHeightID)
			}
			expected = z
		}
		if diff := actual - expected; diff > tol || diff < -tol {
			return fmt.Sprintf("%s coordinate mismatch: expected %.3f, got %.3f (tolerance ±%.3f)",
				axis, expected, actual, tol)
		}
		return ""
	}

	c, tol := pos.Coordinates, r.tolerance
	for _, probe := range []struct {
		axis   string
		decl   Coordinate
		actual float64
		tol    float64
	}{
		{"X", c.X, live.X, tol.X},
		{"Y", c.Y, live.Y, tol.Y},
		{"Z", c.Z, live.Z, tol.Z},
		{"V", c.V, live.V, tol.V},
	} {
		if msg := check(probe.axis, probe.decl, probe.actual, probe.tol); msg != "" {
			return fmt.Sprintf("position %q: %s", positionID, msg)
		}
	}
	return ""
}

// #endregion live-check

// #region resolve

// ResolvedPose is a fully concrete target pose for the executor.
type ResolvedPose struct {
	X float64
	Y float64
	Z float64
	V float64
}

// ResolveCoordinates produces the concrete pose for a position, resolving
// the z-height sentinel through the preset named by zHeightID. Every axis
// must resolve; a missing axis or unresolvable sentinel is an error the
// domain layer converts into a validation reason.
func (r *Registry) ResolveCoordinates(positionID, zHeightID string) (ResolvedPose, error) {
	pos, err := r.Get(positionID)
	if err != nil {
		return ResolvedPose{}, err
	}
	if pos.Coordinates == nil {
		return ResolvedPose{}, fmt.Errorf("position %q has no coordinates defined", positionID)
	}

	resolve := func(axis string, decl Coordinate) (float64, error) {
		switch decl.Kind {
		case CoordFixed:
			return decl.Value, nil
		case CoordFromZHeight:
			if zHeightID == "" {
				return 0, fmt.Errorf("position %q: %s resolves via z-height but none is set", positionID, axis)
			}
			z, ok := r.zHeights[zHeightID]
			if !ok {
				return 0, fmt.Errorf("position %q: unknown z-height %q", positionID, zHeightID)
			}
			return z, nil
		default:
			return 0, fmt.Errorf("position %q missing %s coordinate", positionID, strings.ToUpper(axis))
		}
	}

	var pose ResolvedPose
	c := pos.Coordinates
	if pose.X, err = resolve("x", c.X); err != nil {
		return ResolvedPose{}, err
	}
	if pose.Y, err = resolve("y", c.Y); err != nil {
		return ResolvedPose{}, err
	}
	if pose.Z, err = resolve("z", c.Z); err != nil {
		return ResolvedPose{}, err
	}
	if pose.V, err = resolve("v", c.V); err != nil {
		return ResolvedPose{}, err
	}
	return pose, nil
}

// #endregion resolve
