// Package resource implements the resource table of the simulated operating
// system: a fixed set of resource kinds, each with a fixed number of
// instances, and the per-slot allocation of those instances.
package resource

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrOutOfRange is returned when a resource or slot index does not exist in
// the table.
var ErrOutOfRange = errors.New("index out of range")

// ErrCorrupted is returned when the table is found to break its conservation
// or bound invariants.
var ErrCorrupted = errors.New("resource table corrupted")

// A Descriptor describes one kind of resource.
type Descriptor struct {
	Total     int
	Available int

	// Allocated[i] is the number of instances held by slot i.
	Allocated []int
}

// A Table tracks the availability and allocation of every resource. A Table
// is not safe for concurrent use; it is meant to be owned by a single
// goroutine.
type Table struct {
	descriptors []Descriptor
	numSlots    int
	logger      *slog.Logger
}

// NewTable creates a table of numResources resources with instances units
// each, tracked for numSlots slots. All instances start available.
func NewTable(numResources, instances, numSlots int) *Table {
	if numResources <= 0 || instances <= 0 || numSlots <= 0 {
		panic("resource table dimensions must be positive")
	}

	t := &Table{
		descriptors: make([]Descriptor, numResources),
		numSlots:    numSlots,
		logger:      slog.Default(),
	}

	for i := range t.descriptors {
		t.descriptors[i] = Descriptor{
			Total:     instances,
			Available: instances,
			Allocated: make([]int, numSlots),
		}
	}

	return t
}

// WithLogger sets the logger that receives corruption warnings.
func (t *Table) WithLogger(logger *slog.Logger) *Table {
	t.logger = logger
	return t
}

// NumResources returns the number of resource kinds.
func (t *Table) NumResources() int {
	return len(t.descriptors)
}

// NumSlots returns the number of slots the table tracks.
func (t *Table) NumSlots() int {
	return t.numSlots
}

// Total returns the number of instances of resource r.
func (t *Table) Total(r int) int {
	return t.descriptors[r].Total
}

// Available returns the number of free instances of resource r.
func (t *Table) Available(r int) int {
	return t.descriptors[r].Available
}

// Allocated returns the number of instances of resource r held by slot.
func (t *Table) Allocated(r, slot int) int {
	return t.descriptors[r].Allocated[slot]
}

// Validate checks that r and slot both exist. A negative r skips the resource
// check, for operations that only concern a slot.
func (t *Table) Validate(r, slot int) error {
	if slot < 0 || slot >= t.numSlots {
		return fmt.Errorf("%w: slot %d, table has %d slots",
			ErrOutOfRange, slot, t.numSlots)
	}

	if r >= len(t.descriptors) || r < -1 {
		return fmt.Errorf("%w: resource %d, table has %d resources",
			ErrOutOfRange, r, len(t.descriptors))
	}

	return nil
}

// GrantIfAvailable gives one instance of resource r to slot if one is free.
// It returns false and leaves the table untouched otherwise.
func (t *Table) GrantIfAvailable(r, slot int) bool {
	d := &t.descriptors[r]
	if d.Available < 1 {
		return false
	}

	d.Available--
	d.Allocated[slot]++

	t.assertDescriptor(r)

	return true
}

// Release returns one instance of resource r held by slot. Releasing an
// instance that the slot does not hold is a no-op and returns false.
func (t *Table) Release(r, slot int) bool {
	d := &t.descriptors[r]
	if d.Allocated[slot] < 1 {
		return false
	}

	d.Allocated[slot]--
	d.Available++

	t.assertDescriptor(r)

	return true
}

// Reclaimed records how many instances of a resource were taken back from a
// slot.
type Reclaimed struct {
	Resource int
	Count    int
}

// ReclaimAll returns every instance held by slot to the available pool and
// reports what was moved. Calling it again for the same slot is a no-op.
func (t *Table) ReclaimAll(slot int) []Reclaimed {
	var moved []Reclaimed

	for r := range t.descriptors {
		d := &t.descriptors[r]

		n := d.Allocated[slot]
		if n == 0 {
			continue
		}

		d.Allocated[slot] = 0
		d.Available += n
		moved = append(moved, Reclaimed{Resource: r, Count: n})

		t.assertDescriptor(r)
	}

	return moved
}

// Holding tells if slot holds at least one instance of any resource.
func (t *Table) Holding(slot int) bool {
	for r := range t.descriptors {
		if t.descriptors[r].Allocated[slot] > 0 {
			return true
		}
	}

	return false
}

// CheckInvariants verifies, for every resource, that available plus allocated
// instances equal the total and that no count is negative. Violations are
// handled the same way as a failed assertion after a mutation.
func (t *Table) CheckInvariants() error {
	var errs []error

	for r := range t.descriptors {
		if err := t.assertDescriptor(r); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (t *Table) descriptorViolation(r int) error {
	d := &t.descriptors[r]

	if d.Available < 0 || d.Available > d.Total {
		return fmt.Errorf("%w: resource %d has %d of %d available",
			ErrCorrupted, r, d.Available, d.Total)
	}

	sum := d.Available
	for slot, n := range d.Allocated {
		if n < 0 {
			return fmt.Errorf("%w: slot %d holds %d of resource %d",
				ErrCorrupted, slot, n, r)
		}

		sum += n
	}

	if sum != d.Total {
		return fmt.Errorf("%w: resource %d accounts for %d of %d instances",
			ErrCorrupted, r, sum, d.Total)
	}

	return nil
}

// assertDescriptor panics on a violation in debug builds. Otherwise the
// descriptor is clamped back into range and the violation is logged.
func (t *Table) assertDescriptor(r int) error {
	err := t.descriptorViolation(r)
	if err == nil {
		return nil
	}

	if assertionsEnabled {
		panic(err)
	}

	t.clamp(r)
	t.logger.Warn("clamped resource table", "resource", r, "err", err)

	return err
}

// clamp forces allocations to be non-negative and derives the available count
// from the total, so that the descriptor conserves its instances again. If the
// slots hold more than the total, the available count is pinned at zero.
func (t *Table) clamp(r int) {
	d := &t.descriptors[r]

	held := 0
	for slot, n := range d.Allocated {
		if n < 0 {
			d.Allocated[slot] = 0
			n = 0
		}

		held += n
	}

	d.Available = max(0, min(d.Total, d.Total-held))
}
