package controller

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/ossim/msg"
	"github.com/sarchlab/ossim/process"
	"github.com/sarchlab/ossim/resource"
	"github.com/sarchlab/ossim/sim"
)

var _ = Describe("Handle", func() {
	var (
		mailbox  *msg.Mailbox
		launcher *fakeLauncher
		events   *fakeEvents
		c        *Controller
	)

	build := func(numSlots int) {
		mailbox = msg.NewMailbox()
		launcher = &fakeLauncher{out: mailbox}
		events = &fakeEvents{}
		c = MakeBuilder().
			WithNumSlots(numSlots).
			WithMaxWorkers(numSlots).
			WithMailbox(mailbox).
			WithLauncher(launcher).
			WithEventWriter(events).
			Build()
		c.spawnAll()
	}

	idOf := func(slot int) string {
		return c.Manager().Registry().Entry(slot).ID
	}

	BeforeEach(func() {
		build(DefaultNumSlots)
	})

	It("should grant an available instance", func() {
		Expect(c.Handle(msg.NewRequest(3, 2))).To(Succeed())

		Expect(c.Table().Available(2)).To(Equal(19))
		Expect(c.Table().Allocated(2, 3)).To(Equal(1))
		Expect(c.Counters().Requests).To(Equal(uint64(1)))
		Expect(c.Counters().Granted).To(Equal(uint64(1)))
		Expect(events.records).To(ConsistOf(
			"OSS: Process 3 requesting resource 2"))
	})

	It("should accept messages carrying the occupant's identity", func() {
		m := msg.NewRequest(4, 0).From(idOf(4))

		Expect(c.Handle(m)).To(Succeed())

		Expect(c.Table().Allocated(0, 4)).To(Equal(1))
	})

	It("should deny once a resource is exhausted, then resolve", func() {
		build(21)

		for slot := 0; slot < 20; slot++ {
			Expect(c.Handle(msg.NewRequest(slot, 0))).To(Succeed())
		}
		Expect(c.Table().Available(0)).To(Equal(0))

		Expect(c.Handle(msg.NewRequest(20, 0))).To(Succeed())
		Expect(c.Counters().Denied).To(Equal(uint64(1)))
		Expect(c.Table().Allocated(0, 20)).To(Equal(0))
		Expect(events.records).To(ContainElement(
			"OSS: Process 20 request for resource 0 denied, left outstanding"))

		victim := idOf(0)
		c.detectDeadlock()

		Expect(events.records).To(ContainElement(
			"Deadlock detected! Terminating process 0 to resolve deadlock"))
		Expect(c.Counters().DeadlockResolutions).To(Equal(uint64(1)))
		Expect(c.Table().Available(0)).To(Equal(1))
		Expect(c.Table().Allocated(0, 0)).To(Equal(0))
		Expect(c.Manager().Registry().Entry(0).State).
			To(Equal(process.Terminated))
		Expect(launcher.killed).To(Equal([]string{victim}))
	})

	It("should report no deadlock on an idle table", func() {
		c.detectDeadlock()

		Expect(events.records).To(Equal([]string{"No deadlock detected"}))
		Expect(c.Counters().DeadlockResolutions).To(BeZero())
	})

	It("should reclaim everything on termination", func() {
		Expect(c.Handle(msg.NewRequest(5, 1))).To(Succeed())
		Expect(c.Handle(msg.NewRequest(5, 1))).To(Succeed())
		Expect(c.Handle(msg.NewRequest(5, 4))).To(Succeed())

		Expect(c.Handle(msg.NewTerminate(5))).To(Succeed())

		Expect(c.Table().Available(1)).To(Equal(20))
		Expect(c.Table().Available(4)).To(Equal(20))
		Expect(c.Table().Holding(5)).To(BeFalse())
		Expect(c.Counters().Terminations).To(Equal(uint64(1)))
		Expect(c.Manager().Registry().Entry(5).State).
			To(Equal(process.Terminated))
		Expect(events.records).To(ContainElement(
			"OSS: Process 5 is terminating"))
	})

	It("should count messages in order", func() {
		Expect(c.Handle(msg.NewRequest(0, 1))).To(Succeed())
		Expect(c.Handle(msg.NewRelease(0, 1))).To(Succeed())
		Expect(c.Handle(msg.NewRequest(0, 1))).To(Succeed())

		Expect(c.Counters().Requests).To(Equal(uint64(2)))
		Expect(c.Counters().Releases).To(Equal(uint64(1)))
		Expect(c.Table().Allocated(1, 0)).To(Equal(1))
		Expect(events.records).To(Equal([]string{
			"OSS: Process 0 requesting resource 1",
			"OSS: Process 0 releasing resource 1",
			"OSS: Process 0 requesting resource 1",
		}))
	})

	It("should ignore releasing what is not held", func() {
		Expect(c.Handle(msg.NewRelease(2, 7))).To(Succeed())

		Expect(c.Counters().Releases).To(Equal(uint64(1)))
		Expect(c.Counters().IgnoredReleases).To(Equal(uint64(1)))
		Expect(c.Table().Available(7)).To(Equal(20))
	})

	It("should drop messages from a previous occupant", func() {
		Expect(c.Handle(msg.NewRequest(1, 0).From("someone-else"))).
			To(Succeed())

		Expect(c.Counters().StaleMessages).To(Equal(uint64(1)))
		Expect(c.Counters().Requests).To(BeZero())
		Expect(c.Table().Available(0)).To(Equal(20))
	})

	It("should drop messages to slots that do not run", func() {
		Expect(c.Handle(msg.NewTerminate(6))).To(Succeed())
		Expect(c.Handle(msg.NewTerminate(6))).To(Succeed())
		Expect(c.Handle(msg.NewRequest(6, 0))).To(Succeed())

		Expect(c.Counters().Terminations).To(Equal(uint64(1)))
		Expect(c.Counters().StaleMessages).To(Equal(uint64(2)))
		Expect(c.Table().Holding(6)).To(BeFalse())
	})

	It("should reject unknown actions", func() {
		m := msg.Msg{Slot: 0, Action: msg.Action(7)}

		err := c.Handle(m)

		Expect(errors.Is(err, ErrProtocolViolation)).To(BeTrue())
		Expect(errors.Is(err, msg.ErrUnknownAction)).To(BeTrue())
	})

	It("should reject out-of-range indices", func() {
		err := c.Handle(msg.NewRequest(0, 10))
		Expect(errors.Is(err, ErrProtocolViolation)).To(BeTrue())
		Expect(errors.Is(err, resource.ErrOutOfRange)).To(BeTrue())

		err = c.Handle(msg.NewTerminate(18))
		Expect(errors.Is(err, resource.ErrOutOfRange)).To(BeTrue())

		Expect(c.Counters().Requests).To(BeZero())
	})

	It("should invoke hooks", func() {
		var positions []*sim.HookPos
		var items []Event
		c.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			positions = append(positions, ctx.Pos)
			items = append(items, ctx.Item.(Event))
		}))

		Expect(c.Handle(msg.NewRequest(2, 3))).To(Succeed())
		Expect(c.Handle(msg.NewRelease(2, 3))).To(Succeed())

		Expect(positions).To(Equal([]*sim.HookPos{
			HookPosRequest, HookPosGrant, HookPosRelease,
		}))
		Expect(items[1]).To(Equal(Event{
			Time:     c.Now(),
			Kind:     "Grant",
			Slot:     2,
			Resource: 3,
		}))
	})
})
