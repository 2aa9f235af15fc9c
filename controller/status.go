package controller

import (
	"github.com/sarchlab/ossim/process"
	"github.com/sarchlab/ossim/resource"
	"github.com/sarchlab/ossim/sim"
)

// Status is a copy of the controller state taken between two iterations of
// the loop. It can be read from any goroutine.
type Status struct {
	Now      sim.VTime           `json:"now"`
	Paused   bool                `json:"paused"`
	Done     bool                `json:"done"`
	Policy   string              `json:"policy"`
	Pending  int                 `json:"pending"`
	Running  int                 `json:"running"`
	Counters Counters            `json:"counters"`
	Table    resource.Snapshot   `json:"table"`
	Slots    []process.SlotEntry `json:"slots"`
}

// Status returns the most recently published state.
func (c *Controller) Status() Status {
	paused := c.isPausedNow()

	c.statusLock.RLock()
	s := c.status
	c.statusLock.RUnlock()

	s.Paused = paused

	return s
}

func (c *Controller) publishStatus() {
	s := Status{
		Now:      c.clock.Now(),
		Done:     c.manager.Done(),
		Policy:   c.policy.Name(),
		Pending:  c.mailbox.Len(),
		Running:  c.manager.Registry().Running(),
		Counters: c.counters,
		Table:    c.table.Snapshot(),
		Slots:    c.manager.Registry().Entries(),
	}

	c.statusLock.Lock()
	c.status = s
	c.statusLock.Unlock()
}
