// Package layout holds the static bench layout: the deck of mold slots, the
// mold records the manipulator carries, and the piston dispensers mounted on
// the side of the platform.
package layout

import (
	"fmt"
	"strconv"
	"strings"
)

// #region mold

// Mold is the carried-object record for one mold slot. Weight is tracked in
// grams; a mold with a top piston is considered assembled and may no longer
// be weighed or receive a second piston.
type Mold struct {
	Name          string
	Valid         bool
	HasTopPiston  bool
	CurrentWeight float64
	TargetWeight  float64
	MaxWeight     float64 // 0 means uncapped
	ReadyPos      string  // registry position id, e.g. "mold_ready_4"
}

// SlotID returns the slot identifier derived from the ready position id.
func (m *Mold) SlotID() string {
	if id, ok := strings.CutPrefix(m.ReadyPos, "mold_ready_"); ok {
		return id
	}
	return m.Name
}

// AddWeight records dispensed mass, enforcing the mold's capacity.
func (m *Mold) AddWeight(grams float64) error {
	if m.MaxWeight > 0 && m.CurrentWeight+grams > m.MaxWeight {
		return fmt.Errorf("adding %.4fg would exceed max weight %.4fg", grams, m.MaxWeight)
	}
	m.CurrentWeight += grams
	return nil
}

// RemoveWeight records removed mass; the result may not go negative.
func (m *Mold) RemoveWeight(grams float64) error {
	if m.CurrentWeight-grams < 0 {
		return fmt.Errorf("removing %.4fg would leave negative weight", grams)
	}
	m.CurrentWeight -= grams
	return nil
}

// #endregion mold

// #region deck

// Deck is the slot table. Slot ids are numeric strings ("0".."N-1"); each
// slot holds one mold record created at session start.
type Deck struct {
	molds map[string]*Mold
	size  int
}

// NewDeck creates a deck with n slots, each pre-populated with an empty,
// valid mold whose ready position follows the registry naming convention.
func NewDeck(n int) *Deck {
	d := &Deck{molds: make(map[string]*Mold, n), size: n}
	for i := 0; i < n; i++ {
		id := strconv.Itoa(i)
		d.molds[id] = &Mold{
			Name:     id,
			Valid:    true,
			ReadyPos: "mold_ready_" + id,
		}
	}
	return d
}

// Mold returns the mold record for a slot, or false for an unknown slot.
func (d *Deck) Mold(slotID string) (*Mold, bool) {
	m, ok := d.molds[slotID]
	return m, ok
}

// Size returns the number of slots.
func (d *Deck) Size() int { return d.size }

// #endregion deck

// #region dispenser

// PistonDispenser is a counted consumable feeder on the side of the
// platform. Its ready position id is derived from its index.
type PistonDispenser struct {
	Index     int
	Remaining int
	ReadyPos  string
}

// NewPistonDispenser creates a dispenser loaded with count pistons.
func NewPistonDispenser(index, count int) *PistonDispenser {
	return &PistonDispenser{
		Index:     index,
		Remaining: count,
		ReadyPos:  fmt.Sprintf("dispenser_ready_%d", index),
	}
}

// NewDispensers creates n dispensers, each loaded with per pistons.
func NewDispensers(n, per int) []*PistonDispenser {
	out := make([]*PistonDispenser, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, NewPistonDispenser(i, per))
	}
	return out
}

// RemovePiston consumes one piston. Removing from an empty dispenser is an
// error, not a validation outcome: callers must check Remaining first.
func (p *PistonDispenser) RemovePiston() error {
	if p.Remaining <= 0 {
		return fmt.Errorf("dispenser %d is empty", p.Index)
	}
	p.Remaining--
	return nil
}

// #endregion dispenser
