// Package dispense implements the closed-loop powder dispensing controller.
// The loop reads the scale, advances the feed screw by a computed step and
// converges on a target mass in two phases: a coarse phase with agitation up
// to 90% of target, then a fine feedback phase with fixed small steps.
package dispense

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/moldworks/trickler-controller/internal/journal"
)

// #region types

// Feeder advances the powder feed mechanism. Implementations translate steps
// into machine motion.
type Feeder interface {
	// Advance turns the feed screw by step millimeters and blocks until the
	// motion completes.
	Advance(step float64) error
	// Agitate switches the agitator output on or off.
	Agitate(on bool) error
}

// Config holds loop tuning parameters. Zero values are replaced by defaults.
type Config struct {
	MaxStep       float64       // largest coarse-phase step, mm
	MinStep       float64       // smallest coarse-phase step, mm
	FeedbackStep  float64       // fixed fine-phase step, mm
	AgitatePause  time.Duration // pause on each side of a coarse feed
	FeedbackPause time.Duration // pause after a fine feed
	SettleDelay   time.Duration // wait before the stabilized confirmation read
}

func (c Config) withDefaults() Config {
	if c.MaxStep == 0 {
		c.MaxStep = 4.0
	}
	if c.MinStep == 0 {
		c.MinStep = 0.2
	}
	if c.FeedbackStep == 0 {
		c.FeedbackStep = 0.05
	}
	if c.AgitatePause == 0 {
		c.AgitatePause = 330 * time.Millisecond
	}
	if c.FeedbackPause == 0 {
		c.FeedbackPause = 200 * time.Millisecond
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 4 * time.Second
	}
	return c
}

// Reader reads the mass on the scale. stable requests a stabilized reading,
// which blocks until the scale settles.
type Reader interface {
	Weight(stable bool) (float64, error)
}

// #endregion types

// #region controller

// Controller runs the dispensing loop against a feeder and a scale.
type Controller struct {
	feeder Feeder
	scale  Reader
	cfg    Config
	jrn    *journal.Journal
	sleep  func(context.Context, time.Duration) error
}

// New builds a controller. jrn may be nil.
func New(feeder Feeder, scale Reader, cfg Config, jrn *journal.Journal) *Controller {
	return &Controller{
		feeder: feeder,
		scale:  scale,
		cfg:    cfg.withDefaults(),
		jrn:    jrn,
		sleep:  sleepCtx,
	}
}

// Result summarizes a finished dispense run.
type Result struct {
	FinalWeight float64
	Iterations  int
}

// Run dispenses until a stabilized reading confirms at least 99% of target.
// The loop has no iteration cap; cancel ctx to stop it early.
func (c *Controller) Run(ctx context.Context, target float64) (Result, error) {
	if target <= 0 {
		return Result{}, fmt.Errorf("target weight must be positive, got %v", target)
	}
	threshold90 := 0.9 * target
	threshold99 := 0.99 * target

	var res Result
	agitating := false
	defer func() {
		if agitating {
			if err := c.feeder.Agitate(false); err != nil {
				log.Printf("dispense: agitator off: %v", err)
			}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Iterations++

		weight, err := c.scale.Weight(true)
		if err != nil {
			log.Printf("dispense: stabilized read failed, retrying: %v", err)
			continue
		}
		res.FinalWeight = weight

		if weight >= threshold90 {
			break
		}

		// Coarse phase: step shrinks linearly as the weight approaches 90%.
		progress := weight / threshold90
		step := c.cfg.MaxStep - (c.cfg.MaxStep-c.cfg.MinStep)*progress
		c.logSample(res.Iterations, 1, step, weight, true)

		// Agitate only around the feed itself. The agitator must be off
		// again before the next stabilized read or the read never settles.
		if err := c.feeder.Agitate(true); err != nil {
			return res, fmt.Errorf("agitator on: %w", err)
		}
		agitating = true
		if err := c.sleep(ctx, c.cfg.AgitatePause); err != nil {
			return res, err
		}
		if err := c.feeder.Advance(step); err != nil {
			return res, fmt.Errorf("advance feed: %w", err)
		}
		if err := c.sleep(ctx, c.cfg.AgitatePause); err != nil {
			return res, err
		}
		if err := c.feeder.Agitate(false); err != nil {
			return res, fmt.Errorf("agitator off: %w", err)
		}
		agitating = false
	}

	// Fine phase: fixed small steps on unstable readings until 99%, then a
	// settled stabilized read confirms before declaring success.
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Iterations++

		weight, err := c.scale.Weight(false)
		if err != nil {
			log.Printf("dispense: read failed, retrying: %v", err)
			continue
		}
		res.FinalWeight = weight
		c.logSample(res.Iterations, 2, c.cfg.FeedbackStep, weight, false)

		if weight >= threshold99 {
			if err := c.sleep(ctx, c.cfg.SettleDelay); err != nil {
				return res, err
			}
			confirmed, err := c.scale.Weight(true)
			if err != nil {
				log.Printf("dispense: confirmation read failed, retrying: %v", err)
				continue
			}
			res.FinalWeight = confirmed
			if confirmed >= threshold99 {
				c.logSample(res.Iterations, 2, 0, confirmed, true)
				return res, nil
			}
			// Settled below threshold; fall through and keep feeding.
		}

		if err := c.feeder.Advance(c.cfg.FeedbackStep); err != nil {
			return res, fmt.Errorf("advance feed: %w", err)
		}
		if err := c.sleep(ctx, c.cfg.FeedbackPause); err != nil {
			return res, err
		}
	}
}

func (c *Controller) logSample(iter, phase int, step, weight float64, stable bool) {
	err := c.jrn.LogDispenseSample(journal.DispenseSample{
		Iteration:   iter,
		Phase:       phase,
		StepMM:      step,
		WeightGrams: weight,
		Stable:      stable,
	})
	if err != nil {
		log.Printf("dispense: journal sample: %v", err)
	}
}

// #endregion controller

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
