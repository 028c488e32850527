package registry

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Raw YAML structures for unmarshaling.

type rawFile struct {
	Positions           []rawPosition        `yaml:"positions"`
	Actions             []rawAction          `yaml:"actions"`
	ZHeights            map[string]rawHeight `yaml:"z_heights"`
	CoordinateTolerance *rawTolerance        `yaml:"coordinate_tolerance"`
}

type rawPosition struct {
	ID                  string         `yaml:"id"`
	Type                string         `yaml:"type"`
	AllowedOrigins      []string       `yaml:"allowed_origins"`
	AllowedDestinations []string       `yaml:"allowed_destinations"`
	Coordinates         *rawCoords     `yaml:"coordinates"`
	Requirements        map[string]any `yaml:"requirements"`
	ZHeightPolicy       *rawZPolicy    `yaml:"z_height_policy"`
	Engagement          *rawEngagement `yaml:"engagement"`
	ResourceID          string         `yaml:"resource_id"`
	Description         string         `yaml:"description"`
	Metadata            map[string]string `yaml:"metadata"`
}

type rawCoords struct {
	X any `yaml:"x"`
	Y any `yaml:"y"`
	Z any `yaml:"z"`
	V any `yaml:"v"`
}

type rawZPolicy struct {
	Required string   `yaml:"required"`
	Allowed  []string `yaml:"allowed"`
}

type rawEngagement struct {
	Allowed        bool           `yaml:"allowed"`
	Requirements   map[string]any `yaml:"requirements"`
	AllowedActions []string       `yaml:"allowed_actions"`
}

type rawAction struct {
	ID                  string         `yaml:"id"`
	PositionScope       []string       `yaml:"position_scope"`
	Requirements        map[string]any `yaml:"requirements"`
	Excludes            map[string]any `yaml:"excludes"`
	RequiredToolID      string         `yaml:"required_tool_id"`
	RequiresToolEngaged bool           `yaml:"requires_tool_engaged"`
	BlockedWhenEngaged  bool           `yaml:"blocked_when_engaged"`
	Description         string         `yaml:"description"`
}

type rawHeight struct {
	ZCoordinate float64 `yaml:"z_coordinate"`
	Description string  `yaml:"description"`
}

type rawTolerance struct {
	X *float64 `yaml:"x"`
	Y *float64 `yaml:"y"`
	Z *float64 `yaml:"z"`
	V *float64 `yaml:"v"`
}

// #region load

// LoadFile parses a position registry YAML file. Any defect (duplicate id,
// unknown type reference, unknown requirement key, empty action scope)
// fails loading; individual operations never see a malformed registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses registry YAML bytes in two passes: pass one builds every
// descriptor and a type→ids table, pass two expands origin/destination and
// scope entries that name a position type into the concrete ids of that type.
func Parse(data []byte) (*Registry, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}
	if len(raw.Positions) == 0 {
		return nil, fmt.Errorf("registry declares no positions")
	}

	typeToIDs := make(map[string]StringSet)
	positions := make([]*PositionDescriptor, 0, len(raw.Positions))
	seen := make(map[string]struct{}, len(raw.Positions))

	for _, rp := range raw.Positions {
		if rp.ID == "" {
			return nil, fmt.Errorf("position with empty id")
		}
		if _, dup := seen[rp.ID]; dup {
			return nil, fmt.Errorf("duplicate position identifier %q", rp.ID)
		}
		seen[rp.ID] = struct{}{}

		ptype, ok := positionTypes[rp.Type]
		if !ok {
			return nil, fmt.Errorf("position %q: unknown position type %q", rp.ID, rp.Type)
		}
		if typeToIDs[rp.Type] == nil {
			typeToIDs[rp.Type] = StringSet{}
		}
		typeToIDs[rp.Type][rp.ID] = struct{}{}

		coords, err := parseCoords(rp.Coordinates)
		if err != nil {
			return nil, fmt.Errorf("position %q: %w", rp.ID, err)
		}
		reqs, err := parseRequirements(rp.Requirements)
		if err != nil {
			return nil, fmt.Errorf("position %q: %w", rp.ID, err)
		}

		desc := &PositionDescriptor{
			ID:                  rp.ID,
			Type:                ptype,
			AllowedOrigins:      toSet(rp.AllowedOrigins),
			AllowedDestinations: toSet(rp.AllowedDestinations),
			Coordinates:         coords,
			Requirements:        reqs,
			ResourceID:          rp.ResourceID,
			Description:         rp.Description,
			Metadata:            rp.Metadata,
		}
		if rp.ZHeightPolicy != nil {
			desc.ZHeightPolicy = ZHeightPolicy{
				Required: rp.ZHeightPolicy.Required,
				Allowed:  rp.ZHeightPolicy.Allowed,
			}
		}
		if rp.Engagement != nil {
			desc.AllowsToolEngagement = rp.Engagement.Allowed
			desc.EngagementActions = toSet(rp.Engagement.AllowedActions)
			desc.EngagementReqs, err = parseRequirements(rp.Engagement.Requirements)
			if err != nil {
				return nil, fmt.Errorf("position %q engagement: %w", rp.ID, err)
			}
		}
		positions = append(positions, desc)
	}

	// Pass two: expand type references. A reference is either a concrete id
	// or a type name; anything else is a configuration defect.
	expand := func(refs StringSet, where string) (StringSet, error) {
		out := StringSet{}
		for ref := range refs {
			if ids, isType := typeToIDs[ref]; isType {
				for id := range ids {
					out[id] = struct{}{}
				}
				continue
			}
			if _, known := seen[ref]; !known {
				if _, isTypeName := positionTypes[ref]; isTypeName {
					// A legal type with zero members expands to nothing.
					continue
				}
				return nil, fmt.Errorf("%s references unknown position or type %q", where, ref)
			}
			out[ref] = struct{}{}
		}
		return out, nil
	}

	var err error
	for _, desc := range positions {
		desc.AllowedOrigins, err = expand(desc.AllowedOrigins, "position "+desc.ID)
		if err != nil {
			return nil, err
		}
		desc.AllowedDestinations, err = expand(desc.AllowedDestinations, "position "+desc.ID)
		if err != nil {
			return nil, err
		}
	}

	actions := make(map[string]*ActionDescriptor, len(raw.Actions))
	for _, ra := range raw.Actions {
		if ra.ID == "" {
			return nil, fmt.Errorf("action with empty id")
		}
		if _, dup := actions[ra.ID]; dup {
			return nil, fmt.Errorf("duplicate action identifier %q", ra.ID)
		}
		scope, err := expand(toSet(ra.PositionScope), "action "+ra.ID)
		if err != nil {
			return nil, err
		}
		if len(scope) == 0 {
			return nil, fmt.Errorf("action %q has an empty position scope", ra.ID)
		}
		reqs, err := parseRequirements(ra.Requirements)
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", ra.ID, err)
		}
		excl, err := parseRequirements(ra.Excludes)
		if err != nil {
			return nil, fmt.Errorf("action %q excludes: %w", ra.ID, err)
		}
		actions[ra.ID] = &ActionDescriptor{
			ID:                  ra.ID,
			PositionScope:       scope,
			Requirements:        reqs,
			Excludes:            excl,
			RequiredToolID:      ra.RequiredToolID,
			RequiresToolEngaged: ra.RequiresToolEngaged,
			BlockedWhenEngaged:  ra.BlockedWhenEngaged,
			Description:         ra.Description,
		}
	}

	heights := make(map[string]float64, len(raw.ZHeights))
	for id, h := range raw.ZHeights {
		heights[id] = h.ZCoordinate
	}

	tol := DefaultTolerance
	if rt := raw.CoordinateTolerance; rt != nil {
		if rt.X != nil {
			tol.X = *rt.X
		}
		if rt.Y != nil {
			tol.Y = *rt.Y
		}
		if rt.Z != nil {
			tol.Z = *rt.Z
		}
		if rt.V != nil {
			tol.V = *rt.V
		}
	}

	return newRegistry(positions, actions, heights, tol), nil
}

// #endregion load

// #region helpers

func toSet(ids []string) StringSet {
	s := StringSet{}
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// parseCoord accepts a number, the z-height sentinel, or a PLACEHOLDER
// string; absent values stay unconfigured.
func parseCoord(v any) (Coordinate, error) {
	switch t := v.(type) {
	case nil:
		return Coordinate{}, nil
	case float64:
		return Fixed(t), nil
	case int:
		return Fixed(float64(t)), nil
	case string:
		if t == "USE_Z_HEIGHT_POLICY" {
			return FromZHeight(), nil
		}
		if strings.HasPrefix(t, "PLACEHOLDER") {
			return Coordinate{}, nil
		}
		return Coordinate{}, fmt.Errorf("unrecognized coordinate value %q", t)
	default:
		return Coordinate{}, fmt.Errorf("unrecognized coordinate value %v", v)
	}
}

func parseCoords(rc *rawCoords) (*Coordinates, error) {
	if rc == nil {
		return nil, nil
	}
	var c Coordinates
	var err error
	if c.X, err = parseCoord(rc.X); err != nil {
		return nil, fmt.Errorf("x: %w", err)
	}
	if c.Y, err = parseCoord(rc.Y); err != nil {
		return nil, fmt.Errorf("y: %w", err)
	}
	if c.Z, err = parseCoord(rc.Z); err != nil {
		return nil, fmt.Errorf("z: %w", err)
	}
	if c.V, err = parseCoord(rc.V); err != nil {
		return nil, fmt.Errorf("v: %w", err)
	}
	return &c, nil
}

// parseRequirements converts a requirements/excludes map into the closed
// predicate set. Values may be a scalar or a list of scalars.
func parseRequirements(m map[string]any) ([]Requirement, error) {
	if len(m) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Stable ordering so failure reasons are deterministic.
	sort.Strings(keys)

	out := make([]Requirement, 0, len(m))
	for _, k := range keys {
		key, ok := reqKeys[k]
		if !ok {
			return nil, fmt.Errorf("unknown requirement key %q", k)
		}
		vals, err := scalarValues(m[k])
		if err != nil {
			return nil, fmt.Errorf("requirement %q: %w", k, err)
		}
		out = append(out, Requirement{Key: key, Values: vals})
	}
	return out, nil
}

func scalarValues(v any) ([]string, error) {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, err := scalarValue(e)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("empty value list")
		}
		return out, nil
	default:
		s, err := scalarValue(v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}

func scalarValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported value %v", v)
	}
}

// #endregion helpers
