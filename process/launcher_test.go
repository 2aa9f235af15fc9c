package process

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/ossim/msg"
)

func drain(box *msg.Mailbox) []msg.Msg {
	var all []msg.Msg
	for {
		m, ok := box.TryReceive()
		if !ok {
			return all
		}
		all = append(all, m)
	}
}

func actionsOf(ctx context.Context, seed uint64) []msg.Msg {
	box := msg.NewMailbox()
	l := NewGoroutineLauncher(ctx, box, WorkerConfig{
		NumResources: 10,
		Actions:      20,
		Seed:         seed,
	}, nil)

	Expect(l.Launch(Spec{ID: "w1", Slot: 0})).To(Succeed())
	l.Wait()

	return drain(box)
}

var _ = Describe("GoroutineLauncher", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		box    *msg.Mailbox
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		box = msg.NewMailbox()
	})

	AfterEach(func() {
		cancel()
	})

	It("should run a worker to completion and report its exit", func() {
		l := NewGoroutineLauncher(ctx, box, WorkerConfig{
			NumResources: 10,
			Actions:      5,
			Seed:         1,
		}, nil)

		Expect(l.Launch(Spec{ID: "w1", Slot: 4})).To(Succeed())
		l.Wait()

		h, ok := l.PollExited()
		Expect(ok).To(BeTrue())
		Expect(h).To(Equal(Handle{ID: "w1", Slot: 4}))

		_, ok = l.PollExited()
		Expect(ok).To(BeFalse())

		all := drain(box)
		Expect(all).To(HaveLen(6))
		for _, m := range all[:5] {
			Expect(m.Action).To(BeElementOf(msg.Request, msg.Release))
			Expect(m.Resource).To(BeNumerically("<", 10))
			Expect(m.Slot).To(Equal(4))
			Expect(m.Sender).To(Equal("w1"))
		}
		Expect(all[5]).To(Equal(msg.NewTerminate(4).From("w1")))
	})

	It("should stop a killed worker without a terminate", func() {
		l := NewGoroutineLauncher(ctx, box, WorkerConfig{
			NumResources:   10,
			Actions:        100,
			ActionInterval: time.Hour,
			Seed:           1,
		}, nil)

		Expect(l.Launch(Spec{ID: "w1", Slot: 0})).To(Succeed())
		Eventually(box.Len).Should(Equal(1))

		l.Kill("w1")
		l.Wait()

		_, ok := l.PollExited()
		Expect(ok).To(BeTrue())

		for _, m := range drain(box) {
			Expect(m.Action).ToNot(Equal(msg.Terminate))
		}
	})

	It("should stop every worker on KillAll", func() {
		l := NewGoroutineLauncher(ctx, box, WorkerConfig{
			NumResources:   3,
			Actions:        100,
			ActionInterval: time.Hour,
		}, nil)

		for i := 0; i < 4; i++ {
			Expect(l.Launch(Spec{ID: string(rune('a' + i)), Slot: i})).To(Succeed())
		}

		l.KillAll()
		l.Wait()

		n := 0
		for {
			if _, ok := l.PollExited(); !ok {
				break
			}
			n++
		}
		Expect(n).To(Equal(4))
	})

	It("should draw a seed when none is given", func() {
		a := NewGoroutineLauncher(ctx, box, WorkerConfig{NumResources: 1}, nil)
		b := NewGoroutineLauncher(ctx, box, WorkerConfig{NumResources: 1}, nil)
		c := NewGoroutineLauncher(ctx, box,
			WorkerConfig{NumResources: 1, Seed: 7}, nil)

		Expect(a.Seed()).ToNot(BeZero())
		Expect(a.Seed()).ToNot(Equal(b.Seed()))
		Expect(c.Seed()).To(Equal(uint64(7)))
	})

	It("should repeat action streams only for the same seed", func() {
		Expect(actionsOf(ctx, 3)).To(Equal(actionsOf(ctx, 3)))
		Expect(actionsOf(ctx, 0)).ToNot(Equal(actionsOf(ctx, 0)))
	})

	It("should refuse to launch after its context is done", func() {
		l := NewGoroutineLauncher(ctx, box, WorkerConfig{NumResources: 1}, nil)
		cancel()

		Expect(l.Launch(Spec{ID: "w1"})).To(MatchError(context.Canceled))
	})
})
