// Package controller runs the resource allocator of the simulation. It owns
// the resource table, the slot registry and the virtual clock, serves the
// messages of the workers one at a time and resolves deadlocks once per
// virtual second.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sarchlab/ossim/deadlock"
	"github.com/sarchlab/ossim/eventlog"
	"github.com/sarchlab/ossim/msg"
	"github.com/sarchlab/ossim/process"
	"github.com/sarchlab/ossim/resource"
	"github.com/sarchlab/ossim/sim"
)

// ErrProtocolViolation is returned when a worker sends a message that cannot
// be interpreted. It stops the simulation.
var ErrProtocolViolation = errors.New("protocol violation")

// An EventWriter receives the human-readable log of the simulation.
type EventWriter interface {
	Record(format string, args ...any)
	DumpTable(s resource.Snapshot, now sim.VTime)
	Summary(stats eventlog.Stats)
}

// A Controller drives the simulation. Apart from Pause, Continue and Status,
// its methods must be called from a single goroutine.
type Controller struct {
	sim.HookableBase

	clock   *sim.VClock
	ticker  *sim.SecondTicker
	table   *resource.Table
	manager *process.Manager
	mailbox *msg.Mailbox
	policy  deadlock.Policy
	events  EventWriter
	logger  *slog.Logger

	tick           uint64
	receiveTimeout time.Duration
	pace           time.Duration

	counters Counters

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex

	statusLock sync.RWMutex
	status     Status
}

// Now returns the current virtual time.
func (c *Controller) Now() sim.VTime {
	return c.clock.Now()
}

// Table returns the resource table.
func (c *Controller) Table() *resource.Table {
	return c.table
}

// Manager returns the worker lifecycle manager.
func (c *Controller) Manager() *process.Manager {
	return c.manager
}

// Mailbox returns the mailbox that workers send to.
func (c *Controller) Mailbox() *msg.Mailbox {
	return c.mailbox
}

// Counters returns the current totals.
func (c *Controller) Counters() Counters {
	return c.counters
}

// Run drives the simulation until every worker of the population has
// finished, a fatal error happens or ctx is done. The summary is written in
// all cases.
func (c *Controller) Run(ctx context.Context) error {
	c.singleRunLock.Lock()
	defer c.singleRunLock.Unlock()

	c.publishStatus()

	for {
		done, err := c.iterate(ctx)
		if err != nil {
			c.abort(err)
			return err
		}

		if done {
			c.finish()
			return nil
		}

		if err := c.wait(ctx); err != nil {
			c.abort(err)
			return err
		}
	}
}

func (c *Controller) iterate(ctx context.Context) (bool, error) {
	c.pauseLock.Lock()
	defer c.pauseLock.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	c.clock.Advance(c.tick)

	if c.ticker.Ticked() {
		c.onTick()
	}

	if err := c.reapAll(); err != nil {
		return false, err
	}

	c.spawnAll()

	if c.manager.Done() {
		c.publishStatus()
		return true, nil
	}

	m, ok, err := c.mailbox.Receive(ctx, c.receiveTimeout)
	if err != nil {
		return false, err
	}

	if ok {
		if err := c.Handle(m); err != nil {
			return false, err
		}
	}

	c.publishStatus()

	return false, nil
}

func (c *Controller) wait(ctx context.Context) error {
	if c.pace <= 0 {
		return nil
	}

	timer := time.NewTimer(c.pace)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) onTick() {
	now := c.clock.Now()
	snapshot := c.table.Snapshot()

	c.events.DumpTable(snapshot, now)

	if err := c.table.CheckInvariants(); err != nil {
		c.logger.Warn("resource table corrupted", "time", now, "err", err)
	}

	c.emitWithDetail(HookPosTick, -1, -1, "", snapshot)

	c.detectDeadlock()
}

func (c *Controller) detectDeadlock() {
	v, found := c.policy.Detect(c.table)
	if !found {
		c.events.Record("No deadlock detected")
		return
	}

	c.events.Record(
		"Deadlock detected! Terminating process %d to resolve deadlock",
		v.Slot)
	c.counters.DeadlockResolutions++

	c.table.ReclaimAll(v.Slot)
	c.manager.Kill(v.Slot)

	c.emit(HookPosDeadlock, v.Slot, v.Resource, "")
}

// reapAll frees the slots of exited workers. The messages an exited worker
// queued before its exit is observed are served first, so that its late
// Terminate is never taken for the next occupant's. Messages of other workers
// stay queued.
func (c *Controller) reapAll() error {
	for _, h := range c.manager.Exited() {
		for _, m := range c.mailbox.TakeFrom(h.ID) {
			if err := c.Handle(m); err != nil {
				return err
			}
		}

		c.reap(h)
	}

	return nil
}

func (c *Controller) reap(h process.Handle) {
	state, ok := c.manager.Reap(h)
	if !ok {
		return
	}

	c.counters.Reaped++

	reclaimed := c.table.ReclaimAll(h.Slot)
	if len(reclaimed) > 0 {
		c.logger.Warn("worker exited holding resources",
			"slot", h.Slot,
			"worker", h.ID,
			"state", state,
			"reclaimed", reclaimed)
	}

	c.emit(HookPosReap, h.Slot, -1, h.ID)
}

func (c *Controller) spawnAll() {
	for !c.manager.BudgetExhausted() {
		slot, err := c.manager.Spawn()

		switch {
		case err == nil:
			c.counters.Spawned++
			c.emit(HookPosSpawn, slot, -1,
				c.manager.Registry().Entry(slot).ID)
		case errors.Is(err, process.ErrNoFreeSlot):
			return
		default:
			c.logger.Warn("failed to spawn worker", "err", err)
			return
		}
	}
}

// Handle serves one message. Messages from workers that no longer run in
// the slot they claim are dropped. A message that cannot be interpreted
// returns an error wrapping ErrProtocolViolation.
func (c *Controller) Handle(m msg.Msg) error {
	if !m.Action.Valid() {
		return fmt.Errorf("%w: %w: %d from slot %d",
			ErrProtocolViolation, msg.ErrUnknownAction, m.Action, m.Slot)
	}

	r := m.Resource
	if m.Action == msg.Terminate {
		r = -1
	}

	if err := c.table.Validate(r, m.Slot); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	if c.isStale(m) {
		c.counters.StaleMessages++
		c.logger.Debug("dropped stale message", "msg", m)
		c.emit(HookPosStale, m.Slot, r, m.Sender)

		return nil
	}

	switch m.Action {
	case msg.Request:
		c.handleRequest(m)
	case msg.Release:
		c.handleRelease(m)
	case msg.Terminate:
		c.handleTerminate(m)
	}

	return nil
}

func (c *Controller) isStale(m msg.Msg) bool {
	r := c.manager.Registry()
	if m.Sender == "" {
		return r.Entry(m.Slot).State != process.Running
	}

	return !r.IsRunningAs(m.Slot, m.Sender)
}

func (c *Controller) handleRequest(m msg.Msg) {
	c.counters.Requests++
	c.events.Record("OSS: Process %d requesting resource %d",
		m.Slot, m.Resource)
	c.emit(HookPosRequest, m.Slot, m.Resource, m.Sender)

	if c.table.GrantIfAvailable(m.Resource, m.Slot) {
		c.counters.Granted++
		c.emit(HookPosGrant, m.Slot, m.Resource, m.Sender)

		return
	}

	c.counters.Denied++
	c.events.Record(
		"OSS: Process %d request for resource %d denied, left outstanding",
		m.Slot, m.Resource)
	c.emit(HookPosDeny, m.Slot, m.Resource, m.Sender)
}

func (c *Controller) handleRelease(m msg.Msg) {
	c.counters.Releases++
	c.events.Record("OSS: Process %d releasing resource %d",
		m.Slot, m.Resource)

	if !c.table.Release(m.Resource, m.Slot) {
		c.counters.IgnoredReleases++
	}

	c.emit(HookPosRelease, m.Slot, m.Resource, m.Sender)
}

func (c *Controller) handleTerminate(m msg.Msg) {
	c.counters.Terminations++
	c.events.Record("OSS: Process %d is terminating", m.Slot)

	c.table.ReclaimAll(m.Slot)
	c.manager.Registry().MarkTerminated(m.Slot)

	c.emit(HookPosTerminate, m.Slot, -1, m.Sender)
}

func (c *Controller) finish() {
	c.events.Summary(c.counters.Stats())
	c.mailbox.Close()
}

func (c *Controller) abort(err error) {
	if errors.Is(err, context.Canceled) {
		c.logger.Warn("simulation stopped", "err", err)
	} else {
		c.logger.Error("simulation stopped", "err", err)
	}

	c.manager.KillAll()
	c.publishStatus()
	c.finish()
}

// Pause stops the loop before its next iteration.
func (c *Controller) Pause() {
	c.isPausedLock.Lock()
	defer c.isPausedLock.Unlock()

	if c.isPaused {
		return
	}

	c.pauseLock.Lock()
	c.isPaused = true
}

// Continue lets a paused loop go on.
func (c *Controller) Continue() {
	c.isPausedLock.Lock()
	defer c.isPausedLock.Unlock()

	if !c.isPaused {
		return
	}

	c.pauseLock.Unlock()
	c.isPaused = false
}

func (c *Controller) isPausedNow() bool {
	c.isPausedLock.Lock()
	defer c.isPausedLock.Unlock()

	return c.isPaused
}
