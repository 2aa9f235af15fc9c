package controller

import "github.com/sarchlab/ossim/sim"

// Hook positions of the controller. The item of every hook context is an
// Event.
var (
	HookPosRequest   = &sim.HookPos{Name: "Request"}
	HookPosGrant     = &sim.HookPos{Name: "Grant"}
	HookPosDeny      = &sim.HookPos{Name: "Deny"}
	HookPosRelease   = &sim.HookPos{Name: "Release"}
	HookPosTerminate = &sim.HookPos{Name: "Terminate"}
	HookPosStale     = &sim.HookPos{Name: "Stale"}
	HookPosDeadlock  = &sim.HookPos{Name: "Deadlock"}
	HookPosTick      = &sim.HookPos{Name: "Tick"}
	HookPosSpawn     = &sim.HookPos{Name: "Spawn"}
	HookPosReap      = &sim.HookPos{Name: "Reap"}
)

// An Event describes something the controller did. Resource is -1 when the
// event does not concern a single resource. At HookPosTick, the hook
// context's Detail holds the resource.Snapshot that was dumped.
type Event struct {
	Time     sim.VTime `json:"time"`
	Kind     string    `json:"kind"`
	Slot     int       `json:"slot"`
	Resource int       `json:"resource"`
	Sender   string    `json:"sender,omitempty"`
}

func (c *Controller) emit(pos *sim.HookPos, slot, resource int, sender string) {
	c.emitWithDetail(pos, slot, resource, sender, nil)
}

func (c *Controller) emitWithDetail(
	pos *sim.HookPos,
	slot, resource int,
	sender string,
	detail any,
) {
	if c.NumHooks() == 0 {
		return
	}

	now := c.clock.Now()
	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    pos,
		Now:    now,
		Item: Event{
			Time:     now,
			Kind:     pos.Name,
			Slot:     slot,
			Resource: resource,
			Sender:   sender,
		},
		Detail: detail,
	})
}
