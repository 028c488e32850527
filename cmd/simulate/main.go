// Command simulate runs the full weighing and assembly workflow against the
// in-memory bench: home, load the manipulator, fetch a mold, dispense to
// target on the scale, tamp, fit a top piston and return the mold. Every
// validated decision lands in the session journal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moldworks/trickler-controller/internal/dispense"
	"github.com/moldworks/trickler-controller/internal/journal"
	"github.com/moldworks/trickler-controller/internal/layout"
	"github.com/moldworks/trickler-controller/internal/ops"
	"github.com/moldworks/trickler-controller/internal/pipeline"
	"github.com/moldworks/trickler-controller/internal/platform"
	"github.com/moldworks/trickler-controller/internal/registry"
	"github.com/moldworks/trickler-controller/internal/sim"
)

// gramsPerMM converts simulated feed-screw travel into dispensed mass.
const gramsPerMM = 0.02

// #region main

func main() {
	slot := flag.String("slot", "0", "mold slot to process")
	target := flag.Float64("target", 0.5, "target powder mass in grams")
	slots := flag.Int("slots", 6, "mold slots on the deck")
	pistons := flag.Int("pistons", 10, "pistons loaded in the dispenser")
	flag.Parse()

	configPath := envOr("TRICKLER_CONFIG", "config/motion_positions.yaml")
	dbPath := envOr("TRICKLER_DB", "trickler_journal.db")

	reg, err := registry.LoadFile(configPath)
	if err != nil {
		log.Fatalf("load registry: %v", err)
	}
	jrn, err := journal.Open(dbPath)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer jrn.Close()

	act := sim.NewActuator()
	scale := sim.NewScale()
	act.FeedHook = func(mm float64) { scale.AddMass(mm * gramsPerMM) }

	mctx := platform.NewContext(ops.PosGlobalReady)
	mctx.Deck = layout.NewDeck(*slots)
	mctx.Dispensers = layout.NewDispensers(1, *pistons)

	pipe := pipeline.New(reg, mctx, act, jrn)
	exec := ops.NewExecutor(act, reg)
	// The simulated scale settles instantly; the real bench keeps the
	// dispensing defaults.
	fast := dispense.Config{
		AgitatePause:  time.Millisecond,
		FeedbackPause: time.Millisecond,
		SettleDelay:   time.Millisecond,
	}
	ctrl := ops.NewController(pipe, exec, scale, jrn, fast)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Trickler workflow simulator ready.\n")
	fmt.Printf("  config: %s | journal: %s | session: %s\n", configPath, dbPath, jrn.SessionID())

	if err := runWorkflow(runCtx, ctrl, mctx, *slot, *target); err != nil {
		log.Fatalf("workflow: %v", err)
	}

	mold, _ := mctx.Deck.Mold(*slot)
	n, _ := jrn.OperationCount()
	fmt.Printf("\nworkflow complete: slot %s holds %.4fg (target %.4fg), assembled=%v\n",
		*slot, mold.CurrentWeight, mold.TargetWeight, mold.HasTopPiston)
	fmt.Printf("journal: %d operations in session %s\n", n, jrn.SessionID())
}

// #endregion main

// #region workflow

type namedStep struct {
	name string
	run  func() platform.Result
}

func runWorkflow(runCtx context.Context, ctrl *ops.Controller, mctx *platform.MotionContext, slot string, target float64) error {
	steps := []namedStep{
		{"home_all", ctrl.HomeAll},
		{"home_trickler", ctrl.HomeTrickler},
		{"pickup_tool", func() platform.Result { return ctrl.PickupTool(ops.ToolManipulator) }},
		{"move to slot", func() platform.Result { return ctrl.MoveToMoldSlot(slot) }},
		{"pick mold", func() platform.Result { return ctrl.PickMold(slot) }},
		{"to global ready", ctrl.MoveToGlobalReady},
		{"to scale", ctrl.MoveToScale},
		{"place mold on scale", ctrl.PlaceMoldOnScale},
		{"dispense", func() platform.Result { return ctrl.Dispense(runCtx, target) }},
		{"tamp", ctrl.Tamp},
		{"pick mold from scale", ctrl.PickMoldFromScale},
		{"to global ready", ctrl.MoveToGlobalReady},
		{"dispenser height", func() platform.Result { return ctrl.ApplyZHeight("dispenser_safe") }},
		{"to dispenser", func() platform.Result { return ctrl.MoveToDispenser(0) }},
		{"retrieve piston", func() platform.Result { return ctrl.RetrievePiston(0) }},
		{"to global ready", ctrl.MoveToGlobalReady},
		{"transfer height", func() platform.Result { return ctrl.ApplyZHeight(ops.ZTransferSafe) }},
		{"to slot", func() platform.Result { return ctrl.MoveToMoldSlot(slot) }},
		{"place mold", func() platform.Result { return ctrl.PlaceMold(slot) }},
		{"park_tool", ctrl.ParkTool},
	}

	for i, s := range steps {
		if err := runCtx.Err(); err != nil {
			return err
		}
		res := s.run()
		if !res.Valid {
			return fmt.Errorf("step %d (%s) rejected: %s", i+1, s.name, res.Reason)
		}
		fmt.Printf("  [%2d/%d] %-22s ok  (position=%s payload=%s)\n",
			i+1, len(steps), s.name, mctx.PositionID, mctx.PayloadState)
	}
	return nil
}

// #endregion workflow

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
