package controller

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/ossim/msg"
	"github.com/sarchlab/ossim/process"
	"github.com/sarchlab/ossim/sim"
)

var _ = Describe("Controller", func() {
	var (
		mailbox  *msg.Mailbox
		launcher *fakeLauncher
		events   *fakeEvents
		builder  Builder
	)

	BeforeEach(func() {
		mailbox = msg.NewMailbox()
		launcher = &fakeLauncher{out: mailbox}
		events = &fakeEvents{}
		builder = MakeBuilder().
			WithNumSlots(2).
			WithMaxWorkers(3).
			WithReceiveTimeout(time.Millisecond).
			WithMailbox(mailbox).
			WithLauncher(launcher).
			WithEventWriter(events)
	})

	It("should run every worker to completion", func() {
		launcher.exitOnLaunch = true
		launcher.script = func(spec process.Spec) []msg.Msg {
			return []msg.Msg{
				msg.NewRequest(spec.Slot, 0).From(spec.ID),
				msg.NewRequest(spec.Slot, 1).From(spec.ID),
				msg.NewTerminate(spec.Slot).From(spec.ID),
			}
		}
		c := builder.Build()

		err := c.Run(context.Background())

		Expect(err).ToNot(HaveOccurred())
		counters := c.Counters()
		Expect(counters.Spawned).To(Equal(uint64(3)))
		Expect(counters.Reaped).To(Equal(uint64(3)))
		Expect(counters.Requests).To(Equal(uint64(6)))
		Expect(counters.Terminations).To(Equal(uint64(3)))
		Expect(counters.StaleMessages).To(BeZero())
		Expect(c.Manager().Done()).To(BeTrue())
		Expect(c.Table().CheckInvariants()).To(Succeed())
		for r := 0; r < c.Table().NumResources(); r++ {
			Expect(c.Table().Available(r)).To(Equal(20))
		}
		Expect(events.summaries).To(HaveLen(1))
		Expect(events.summaries[0].Terminations).To(Equal(uint64(3)))
		Expect(c.Status().Done).To(BeTrue())
	})

	It("should hand freed slots out again, lowest first", func() {
		launcher.exitOnLaunch = true
		c := builder.Build()

		Expect(c.Run(context.Background())).To(Succeed())

		Expect(launcher.launched).To(HaveLen(3))
		Expect(launcher.launched[0].Slot).To(Equal(0))
		Expect(launcher.launched[1].Slot).To(Equal(1))
		Expect(launcher.launched[2].Slot).To(Equal(0))
	})

	It("should reclaim from workers that exit without terminating", func() {
		launcher.exitOnLaunch = true
		launcher.script = func(spec process.Spec) []msg.Msg {
			return []msg.Msg{msg.NewRequest(spec.Slot, 3).From(spec.ID)}
		}
		c := builder.Build()

		Expect(c.Run(context.Background())).To(Succeed())

		Expect(c.Counters().Terminations).To(BeZero())
		Expect(c.Table().Available(3)).To(Equal(20))
	})

	It("should dump the table and look for deadlocks every second", func() {
		c := builder.Build()
		ctx := context.Background()

		_, err := c.iterate(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(events.dumps).To(BeEmpty())

		_, err = c.iterate(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(events.dumps).To(Equal([]sim.VTime{{Sec: 1}}))
		Expect(events.records).To(ContainElement("No deadlock detected"))

		_, err = c.iterate(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(events.dumps).To(HaveLen(1))
	})

	It("should serve an exited worker's messages and one other", func() {
		c := builder.WithMaxWorkers(2).Build()
		c.spawnAll()
		exiting, staying := launcher.launched[0], launcher.launched[1]

		for i := 0; i < 10; i++ {
			Expect(mailbox.Send(
				msg.NewRequest(staying.Slot, 0).From(staying.ID))).To(Succeed())
		}
		Expect(mailbox.Send(
			msg.NewRequest(exiting.Slot, 1).From(exiting.ID))).To(Succeed())
		Expect(mailbox.Send(
			msg.NewTerminate(exiting.Slot).From(exiting.ID))).To(Succeed())
		launcher.exit(exiting)

		done, err := c.iterate(context.Background())

		Expect(err).ToNot(HaveOccurred())
		Expect(done).To(BeFalse())
		Expect(c.Now()).To(Equal(sim.VTime{Nsec: 500000000}))
		Expect(c.Counters().Terminations).To(Equal(uint64(1)))
		Expect(c.Counters().Reaped).To(Equal(uint64(1)))
		Expect(c.Counters().Requests).To(Equal(uint64(2)))
		Expect(c.Table().Allocated(0, staying.Slot)).To(Equal(1))
		Expect(mailbox.Len()).To(Equal(9))
	})

	It("should not finish while a worker still runs", func() {
		c := builder.WithMaxWorkers(2).Build()
		ctx := context.Background()

		done, err := c.iterate(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(done).To(BeFalse())
		Expect(c.Manager().BudgetExhausted()).To(BeTrue())

		launcher.exit(launcher.launched[0])
		done, err = c.iterate(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(done).To(BeFalse())
		Expect(c.Status().Running).To(Equal(1))
		Expect(c.Status().Done).To(BeFalse())
		Expect(events.summaries).To(BeEmpty())

		launcher.exit(launcher.launched[1])
		done, err = c.iterate(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(done).To(BeTrue())
	})

	It("should stop on a protocol violation", func() {
		var logs bytes.Buffer
		launcher.script = func(spec process.Spec) []msg.Msg {
			return []msg.Msg{{Slot: spec.Slot, Action: msg.Action(9)}}
		}
		c := builder.
			WithLogger(slog.New(slog.NewTextHandler(&logs, nil))).
			Build()

		err := c.Run(context.Background())

		Expect(errors.Is(err, ErrProtocolViolation)).To(BeTrue())
		Expect(launcher.killed).To(HaveLen(2))
		Expect(events.summaries).To(HaveLen(1))
		Expect(logs.String()).To(ContainSubstring("level=ERROR"))
	})

	It("should stop quietly when the context is cancelled", func() {
		var logs bytes.Buffer
		c := builder.
			WithLogger(slog.New(slog.NewTextHandler(&logs, nil))).
			Build()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := c.Run(ctx)

		Expect(err).To(MatchError(context.Canceled))
		Expect(events.summaries).To(HaveLen(1))
		Expect(logs.String()).To(ContainSubstring("level=WARN"))
		Expect(logs.String()).ToNot(ContainSubstring("level=ERROR"))
	})

	It("should keep retrying spawns that fail", func() {
		launcher.err = errors.New("cannot start")
		c := builder.Build()

		done, err := c.iterate(context.Background())

		Expect(err).ToNot(HaveOccurred())
		Expect(done).To(BeFalse())
		Expect(c.Counters().Spawned).To(BeZero())

		launcher.err = nil
		_, err = c.iterate(context.Background())

		Expect(err).ToNot(HaveOccurred())
		Expect(c.Counters().Spawned).To(Equal(uint64(2)))
	})

	It("should pause between iterations", func() {
		c := builder.Build()

		c.Pause()
		Expect(c.Status().Paused).To(BeTrue())

		c.Continue()
		Expect(c.Status().Paused).To(BeFalse())
	})

	It("should publish its status", func() {
		c := builder.Build()

		_, err := c.iterate(context.Background())
		Expect(err).ToNot(HaveOccurred())

		s := c.Status()
		Expect(s.Now).To(Equal(sim.VTime{Nsec: 500000000}))
		Expect(s.Policy).To(Equal("exhausted-holder"))
		Expect(s.Slots).To(HaveLen(2))
		Expect(s.Slots[0].State).To(Equal(process.Running))
		Expect(s.Table.NumResources()).To(Equal(10))
		Expect(s.Counters.Spawned).To(Equal(uint64(2)))
	})

	It("should panic on invalid parameters", func() {
		Expect(func() { MakeBuilder().WithNumSlots(0).Build() }).To(Panic())
		Expect(func() { MakeBuilder().WithTick(0).Build() }).To(Panic())
		Expect(func() { MakeBuilder().WithPolicy(nil).Build() }).To(Panic())
	})
})
