package process

import (
	"errors"
	"fmt"

	"github.com/sarchlab/ossim/sim"
)

// ErrBudgetExhausted is returned by Spawn once the whole population has been
// started.
var ErrBudgetExhausted = errors.New("spawn budget exhausted")

// A Manager starts workers into slots up to a population budget, force-stops
// them on request and frees their slots once they exit.
type Manager struct {
	registry *Registry
	launcher Launcher
	ids      sim.IDGenerator

	budget  int
	spawned int
}

// NewManager creates a manager that starts at most budget workers in total.
func NewManager(registry *Registry, launcher Launcher, budget int) *Manager {
	if budget < 0 {
		panic("spawn budget cannot be negative")
	}

	return &Manager{
		registry: registry,
		launcher: launcher,
		ids:      sim.GetIDGenerator(),
		budget:   budget,
	}
}

// WithIDGenerator replaces the generator of worker identities.
func (m *Manager) WithIDGenerator(ids sim.IDGenerator) *Manager {
	m.ids = ids
	return m
}

// Registry returns the slot registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Spawn starts one worker in the lowest free slot. ErrNoFreeSlot and launch
// failures are transient; the caller may retry later.
func (m *Manager) Spawn() (int, error) {
	if m.spawned >= m.budget {
		return -1, ErrBudgetExhausted
	}

	if m.registry.Occupied() == m.registry.NumSlots() {
		return -1, ErrNoFreeSlot
	}

	id := m.ids.Generate()

	slot, err := m.registry.Acquire(id)
	if err != nil {
		return -1, err
	}

	err = m.launcher.Launch(Spec{ID: id, Slot: slot})
	if err != nil {
		m.registry.Free(slot)
		return -1, fmt.Errorf("launching worker into slot %d: %w", slot, err)
	}

	m.spawned++

	return slot, nil
}

// Exited collects the workers that exited since the last call. It never
// waits. Exits of workers that no longer occupy their slot are discarded.
// The slots stay occupied until the handles are passed to Reap, so that the
// caller can first deal with whatever the workers sent before exiting.
func (m *Manager) Exited() []Handle {
	var exited []Handle

	for {
		h, ok := m.launcher.PollExited()
		if !ok {
			return exited
		}

		if m.registry.Entry(h.Slot).ID != h.ID {
			continue
		}

		exited = append(exited, h)
	}
}

// Reap frees the slot of an exited worker. The returned state is the slot's
// state at the time of the exit; a worker that exits while still Running
// never terminated through the protocol.
func (m *Manager) Reap(h Handle) (State, bool) {
	e := m.registry.Entry(h.Slot)
	if e.ID != h.ID || e.State == Free {
		return Free, false
	}

	m.registry.Free(h.Slot)

	return e.State, true
}

// Kill force-terminates the worker in slot. The slot stays occupied until
// the worker's exit is reaped.
func (m *Manager) Kill(slot int) bool {
	e := m.registry.Entry(slot)
	if !m.registry.MarkTerminated(slot) {
		return false
	}

	m.launcher.Kill(e.ID)

	return true
}

// KillAll force-terminates every running worker.
func (m *Manager) KillAll() {
	for slot := 0; slot < m.registry.NumSlots(); slot++ {
		m.Kill(slot)
	}
}

// BudgetExhausted tells if every worker of the population has been started.
func (m *Manager) BudgetExhausted() bool {
	return m.spawned >= m.budget
}

// Done tells if the whole population has been started and every slot is
// free again.
func (m *Manager) Done() bool {
	return m.BudgetExhausted() && m.registry.Occupied() == 0
}
