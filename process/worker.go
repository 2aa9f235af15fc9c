package process

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/sarchlab/ossim/msg"
)

// A Worker is a simulated user process. It sends Actions random requests and
// releases, pausing ActionInterval after each, then terminates.
type Worker struct {
	ID             string
	Slot           int
	NumResources   int
	Actions        int
	ActionInterval time.Duration
	Rand           *rand.Rand
	Out            msg.Sender
	Logger         *slog.Logger
}

// Run performs the worker's actions. It sends exactly one Terminate message
// at the end unless ctx is done first, in which case it stops without
// terminating.
func (w *Worker) Run(ctx context.Context) error {
	for i := 0; i < w.Actions; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		m := w.nextAction()
		if err := w.Out.Send(m.From(w.ID)); err != nil {
			return fmt.Errorf("worker %s: %w", w.ID, err)
		}

		w.logger().Debug("worker acted", "slot", w.Slot, "msg", m.String())

		if err := w.pause(ctx); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := w.Out.Send(msg.NewTerminate(w.Slot).From(w.ID)); err != nil {
		return fmt.Errorf("worker %s: %w", w.ID, err)
	}

	w.logger().Debug("worker finished", "slot", w.Slot)

	return nil
}

func (w *Worker) nextAction() msg.Msg {
	resource := w.Rand.IntN(w.NumResources)

	if w.Rand.IntN(2) == 0 {
		return msg.NewRequest(w.Slot, resource)
	}

	return msg.NewRelease(w.Slot, resource)
}

func (w *Worker) pause(ctx context.Context) error {
	if w.ActionInterval <= 0 {
		return nil
	}

	timer := time.NewTimer(w.ActionInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}

	return w.Logger
}
