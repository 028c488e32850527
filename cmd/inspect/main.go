// Command inspect loads a position registry file, prints its contents and
// lints it for defects the parser cannot reject on its own: asymmetric
// travel edges, positions unreachable from the global ready point, and
// engagement actions that no action descriptor defines.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/moldworks/trickler-controller/internal/registry"
)

// #region main

func main() {
	configPath := flag.String("config", "", "path to the position registry YAML")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	strict := flag.Bool("strict", false, "exit non-zero when lint findings exist")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --config path/to/motion_positions.yaml [--json] [--strict]")
		os.Exit(2)
	}

	reg, err := registry.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load registry: %v\n", err)
		os.Exit(1)
	}

	findings := lint(reg)
	if *jsonOut {
		if err := printJSON(reg, findings); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	} else {
		printTable(reg, findings)
	}
	if *strict && len(findings) > 0 {
		os.Exit(1)
	}
}

// #endregion main

// #region lint

func lint(reg *registry.Registry) []string {
	var findings []string

	// Edge symmetry: a validated move needs both directions declared, so a
	// one-sided edge is dead configuration.
	for _, id := range reg.PositionIDs() {
		pos, _ := reg.Get(id)
		for _, dest := range pos.AllowedDestinations.Sorted() {
			d, err := reg.Get(dest)
			if err != nil {
				continue
			}
			if !d.AllowedOrigins.Has(id) {
				findings = append(findings, fmt.Sprintf(
					"asymmetric edge: %s declares destination %s, but %s does not declare origin %s",
					id, dest, dest, id))
			}
		}
		for _, origin := range pos.AllowedOrigins.Sorted() {
			o, err := reg.Get(origin)
			if err != nil {
				continue
			}
			if !o.AllowedDestinations.Has(id) {
				findings = append(findings, fmt.Sprintf(
					"asymmetric edge: %s declares origin %s, but %s does not declare destination %s",
					id, origin, origin, id))
			}
		}
	}

	// Reachability from the global ready point.
	if hub := reg.FindFirstOfType(registry.GlobalReady); hub != nil {
		reached := map[string]bool{hub.ID: true}
		queue := []string{hub.ID}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			pos, _ := reg.Get(id)
			for dest := range pos.AllowedDestinations {
				if !reached[dest] {
					reached[dest] = true
					queue = append(queue, dest)
				}
			}
		}
		for _, id := range reg.PositionIDs() {
			if !reached[id] {
				findings = append(findings, fmt.Sprintf(
					"position %s is unreachable from %s", id, hub.ID))
			}
		}
	} else {
		findings = append(findings, "no GLOBAL_READY position declared")
	}

	// Engagement actions must exist as action descriptors scoped to the
	// engagement position.
	for _, id := range reg.PositionIDs() {
		pos, _ := reg.Get(id)
		if !pos.AllowsToolEngagement {
			continue
		}
		for _, actionID := range pos.EngagementActions.Sorted() {
			a, err := reg.Action(actionID)
			if err != nil {
				findings = append(findings, fmt.Sprintf(
					"position %s allows engagement action %s, which is not defined", id, actionID))
				continue
			}
			if !a.PositionScope.Has(id) {
				findings = append(findings, fmt.Sprintf(
					"engagement action %s is not scoped to position %s", actionID, id))
			}
		}
	}

	return findings
}

// #endregion lint

// #region output

type report struct {
	Positions []positionRow `json:"positions"`
	Actions   []string      `json:"actions"`
	ZHeights  []string      `json:"z_heights"`
	Findings  []string      `json:"findings"`
}

type positionRow struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Destinations []string `json:"destinations"`
	Engagement   bool     `json:"engagement,omitempty"`
}

func buildReport(reg *registry.Registry, findings []string) report {
	rep := report{
		Actions:  reg.ActionIDs(),
		ZHeights: reg.ZHeightIDs(),
		Findings: findings,
	}
	if rep.Findings == nil {
		rep.Findings = []string{}
	}
	for _, id := range reg.PositionIDs() {
		pos, _ := reg.Get(id)
		rep.Positions = append(rep.Positions, positionRow{
			ID:           id,
			Type:         string(pos.Type),
			Destinations: pos.AllowedDestinations.Sorted(),
			Engagement:   pos.AllowsToolEngagement,
		})
	}
	return rep
}

func printJSON(reg *registry.Registry, findings []string) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(buildReport(reg, findings))
}

func printTable(reg *registry.Registry, findings []string) {
	rep := buildReport(reg, findings)

	fmt.Printf("%-20s %-16s %-10s %s\n", "POSITION", "TYPE", "ENGAGEMENT", "DESTINATIONS")
	for _, row := range rep.Positions {
		eng := ""
		if row.Engagement {
			eng = "yes"
		}
		fmt.Printf("%-20s %-16s %-10s %s\n", row.ID, row.Type, eng, strings.Join(row.Destinations, ", "))
	}

	fmt.Printf("\nactions:   %s\n", strings.Join(rep.Actions, ", "))
	fmt.Printf("z-heights: %s\n", strings.Join(rep.ZHeights, ", "))

	if len(findings) == 0 {
		fmt.Println("\nlint: clean")
		return
	}
	fmt.Printf("\nlint: %d finding(s)\n", len(findings))
	for _, f := range findings {
		fmt.Printf("  - %s\n", f)
	}
}

// #endregion output
