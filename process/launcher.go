package process

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/sarchlab/ossim/msg"
)

// A Spec tells a Launcher which worker to start.
type Spec struct {
	ID   string
	Slot int
}

// A Handle identifies a started worker.
type Handle struct {
	ID   string `json:"id"`
	Slot int    `json:"slot"`
}

// A Launcher starts workers and reports when they exit.
type Launcher interface {
	// Launch starts a worker without waiting for it.
	Launch(spec Spec) error

	// PollExited returns a worker that has exited, without waiting.
	PollExited() (Handle, bool)

	// Kill asks the worker to stop as soon as possible.
	Kill(id string)
}

// WorkerConfig describes the behavior of the workers a GoroutineLauncher
// starts.
type WorkerConfig struct {
	NumResources   int
	Actions        int
	ActionInterval time.Duration

	// Seed derives the random source of each worker. Zero draws a random
	// seed when the launcher is created.
	Seed uint64
}

func randomSeed() uint64 {
	for {
		if seed := rand.Uint64(); seed != 0 {
			return seed
		}
	}
}

// A GoroutineLauncher runs each worker on its own goroutine.
type GoroutineLauncher struct {
	ctx    context.Context
	out    msg.FrameReceiver
	config WorkerConfig
	logger *slog.Logger

	lock     sync.Mutex
	launched uint64
	cancels  map[string]context.CancelFunc
	exited   deque.Deque[Handle]
	wg       sync.WaitGroup
}

// NewGoroutineLauncher creates a launcher whose workers send their messages
// to out as wire frames. The workers stop when ctx is done.
func NewGoroutineLauncher(
	ctx context.Context,
	out msg.FrameReceiver,
	config WorkerConfig,
	logger *slog.Logger,
) *GoroutineLauncher {
	if logger == nil {
		logger = slog.Default()
	}

	if config.Seed == 0 {
		config.Seed = randomSeed()
	}

	return &GoroutineLauncher{
		ctx:     ctx,
		out:     out,
		config:  config,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Seed returns the seed the worker random sources derive from.
func (l *GoroutineLauncher) Seed() uint64 {
	return l.config.Seed
}

// Launch starts the worker.
func (l *GoroutineLauncher) Launch(spec Spec) error {
	if err := l.ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(l.ctx)

	l.lock.Lock()
	l.launched++
	seq := l.launched
	l.cancels[spec.ID] = cancel
	l.lock.Unlock()

	w := &Worker{
		ID:             spec.ID,
		Slot:           spec.Slot,
		NumResources:   l.config.NumResources,
		Actions:        l.config.Actions,
		ActionInterval: l.config.ActionInterval,
		Rand:           rand.New(rand.NewPCG(l.config.Seed, seq)),
		Out:            msg.FrameSender{To: l.out},
		Logger:         l.logger,
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.markExited(spec)

		if err := w.Run(ctx); err != nil {
			l.logger.Debug("worker stopped", "id", spec.ID, "slot", spec.Slot,
				"err", err)
		}
	}()

	return nil
}

func (l *GoroutineLauncher) markExited(spec Spec) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if cancel, ok := l.cancels[spec.ID]; ok {
		cancel()
		delete(l.cancels, spec.ID)
	}

	l.exited.PushBack(Handle(spec))
}

// PollExited returns the worker that exited earliest among those not polled
// yet.
func (l *GoroutineLauncher) PollExited() (Handle, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.exited.Len() == 0 {
		return Handle{}, false
	}

	return l.exited.PopFront(), true
}

// Kill cancels the worker's context.
func (l *GoroutineLauncher) Kill(id string) {
	l.lock.Lock()
	cancel, ok := l.cancels[id]
	l.lock.Unlock()

	if ok {
		cancel()
	}
}

// KillAll cancels every running worker.
func (l *GoroutineLauncher) KillAll() {
	l.lock.Lock()
	defer l.lock.Unlock()

	for _, cancel := range l.cancels {
		cancel()
	}
}

// Wait blocks until every launched worker has returned.
func (l *GoroutineLauncher) Wait() {
	l.wg.Wait()
}
