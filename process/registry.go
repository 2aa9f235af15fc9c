// Package process manages the worker population of the simulation: which
// logical slot each worker occupies, how workers are started and stopped, and
// what a worker does while it runs.
package process

import (
	"cmp"
	"errors"
	"fmt"

	"github.com/addrummond/heap"
)

// ErrNoFreeSlot is returned when every slot is occupied.
var ErrNoFreeSlot = errors.New("no free slot")

// State is the occupancy state of a slot.
type State int

// The states a slot moves through: Free -> Running -> Terminated -> Free.
const (
	Free State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{Free, Running, Terminated} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}

	return fmt.Errorf("unknown slot state %q", text)
}

// A SlotEntry is the occupant of one slot.
type SlotEntry struct {
	ID    string `json:"id"`
	State State  `json:"state"`
}

type freeSlot struct {
	index int
}

func (a *freeSlot) Cmp(b *freeSlot) int {
	return cmp.Compare(a.index, b.index)
}

// A Registry maps a bounded set of slots to the workers occupying them. A
// slot becomes reusable only after it is freed, which happens once its
// worker's exit is observed. Free slots are handed out lowest index first.
type Registry struct {
	entries []SlotEntry
	free    heap.Heap[freeSlot, heap.Min]
}

// NewRegistry creates a registry with numSlots free slots.
func NewRegistry(numSlots int) *Registry {
	if numSlots <= 0 {
		panic("number of slots must be positive")
	}

	r := &Registry{
		entries: make([]SlotEntry, numSlots),
	}

	for i := 0; i < numSlots; i++ {
		heap.PushOrderable(&r.free, freeSlot{index: i})
	}

	return r
}

// NumSlots returns the number of slots.
func (r *Registry) NumSlots() int {
	return len(r.entries)
}

// Acquire places the worker id into the lowest free slot.
func (r *Registry) Acquire(id string) (int, error) {
	s, ok := heap.PopOrderable(&r.free)
	if !ok {
		return -1, ErrNoFreeSlot
	}

	r.entries[s.index] = SlotEntry{ID: id, State: Running}

	return s.index, nil
}

// MarkTerminated records that the worker in slot no longer takes part in the
// protocol. It returns false if the slot was not running.
func (r *Registry) MarkTerminated(slot int) bool {
	if r.entries[slot].State != Running {
		return false
	}

	r.entries[slot].State = Terminated

	return true
}

// Free makes slot available again. Freeing a free slot does nothing.
func (r *Registry) Free(slot int) {
	if r.entries[slot].State == Free {
		return
	}

	r.entries[slot] = SlotEntry{}
	heap.PushOrderable(&r.free, freeSlot{index: slot})
}

// Entry returns the occupant of slot.
func (r *Registry) Entry(slot int) SlotEntry {
	return r.entries[slot]
}

// IsRunningAs tells if slot is occupied by a running worker with the given
// identity.
func (r *Registry) IsRunningAs(slot int, id string) bool {
	if slot < 0 || slot >= len(r.entries) {
		return false
	}

	e := r.entries[slot]

	return e.State == Running && e.ID == id
}

// Occupied returns the number of slots that are not free.
func (r *Registry) Occupied() int {
	n := 0
	for _, e := range r.entries {
		if e.State != Free {
			n++
		}
	}

	return n
}

// Running returns the number of slots whose worker is running.
func (r *Registry) Running() int {
	n := 0
	for _, e := range r.entries {
		if e.State == Running {
			n++
		}
	}

	return n
}

// Entries returns a copy of all the slots.
func (r *Registry) Entries() []SlotEntry {
	return append([]SlotEntry(nil), r.entries...)
}
