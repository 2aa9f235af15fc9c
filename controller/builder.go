package controller

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/sarchlab/ossim/deadlock"
	"github.com/sarchlab/ossim/eventlog"
	"github.com/sarchlab/ossim/msg"
	"github.com/sarchlab/ossim/process"
	"github.com/sarchlab/ossim/resource"
	"github.com/sarchlab/ossim/sim"
)

// Defaults of a simulation.
const (
	DefaultNumResources   = 10
	DefaultInstances      = 20
	DefaultNumSlots       = 18
	DefaultMaxWorkers     = 18
	DefaultTick           = sim.NanosPerSec / 2
	DefaultReceiveTimeout = 50 * time.Millisecond
	DefaultActions        = 5
	DefaultActionInterval = time.Second
)

// Builder can be used to build a controller.
type Builder struct {
	numResources   int
	instances      int
	numSlots       int
	maxWorkers     int
	tick           uint64
	receiveTimeout time.Duration
	pace           time.Duration
	actions        int
	actionInterval time.Duration
	seed           uint64

	policy   deadlock.Policy
	mailbox  *msg.Mailbox
	launcher process.Launcher
	ids      sim.IDGenerator
	events   EventWriter
	logger   *slog.Logger
}

// MakeBuilder creates a builder with the default parameters.
func MakeBuilder() Builder {
	return Builder{
		numResources:   DefaultNumResources,
		instances:      DefaultInstances,
		numSlots:       DefaultNumSlots,
		maxWorkers:     DefaultMaxWorkers,
		tick:           DefaultTick,
		receiveTimeout: DefaultReceiveTimeout,
		actions:        DefaultActions,
		actionInterval: DefaultActionInterval,
		policy:         deadlock.ExhaustedHolderHeuristic{},
	}
}

// WithNumResources sets the number of resource types.
func (b Builder) WithNumResources(n int) Builder {
	b.numResources = n
	return b
}

// WithInstances sets the number of instances of every resource.
func (b Builder) WithInstances(n int) Builder {
	b.instances = n
	return b
}

// WithNumSlots sets how many workers can run at the same time.
func (b Builder) WithNumSlots(n int) Builder {
	b.numSlots = n
	return b
}

// WithMaxWorkers sets how many workers are started over the whole run.
func (b Builder) WithMaxWorkers(n int) Builder {
	b.maxWorkers = n
	return b
}

// WithTick sets how many virtual nanoseconds pass per loop iteration.
func (b Builder) WithTick(nanos uint64) Builder {
	b.tick = nanos
	return b
}

// WithReceiveTimeout sets how long an iteration waits for a message. Zero
// waits until one arrives.
func (b Builder) WithReceiveTimeout(d time.Duration) Builder {
	b.receiveTimeout = d
	return b
}

// WithPace sets a real-time delay between iterations.
func (b Builder) WithPace(d time.Duration) Builder {
	b.pace = d
	return b
}

// WithActions sets how many actions every worker performs before it
// terminates. It is ignored if a launcher is given.
func (b Builder) WithActions(n int) Builder {
	b.actions = n
	return b
}

// WithActionInterval sets how long workers pause between two actions. It is
// ignored if a launcher is given.
func (b Builder) WithActionInterval(d time.Duration) Builder {
	b.actionInterval = d
	return b
}

// WithSeed sets the seed of the workers' random sources. It is ignored if a
// launcher is given.
func (b Builder) WithSeed(seed uint64) Builder {
	b.seed = seed
	return b
}

// WithPolicy sets the deadlock detection policy.
func (b Builder) WithPolicy(p deadlock.Policy) Builder {
	b.policy = p
	return b
}

// WithMailbox sets the mailbox that workers send to.
func (b Builder) WithMailbox(m *msg.Mailbox) Builder {
	b.mailbox = m
	return b
}

// WithLauncher sets how workers are started. By default, workers run on
// goroutines and send to the controller's mailbox.
func (b Builder) WithLauncher(l process.Launcher) Builder {
	b.launcher = l
	return b
}

// WithIDGenerator sets the generator of worker identities.
func (b Builder) WithIDGenerator(ids sim.IDGenerator) Builder {
	b.ids = ids
	return b
}

// WithEventWriter sets where the event log goes. By default, events are
// discarded.
func (b Builder) WithEventWriter(w EventWriter) Builder {
	b.events = w
	return b
}

// WithLogger sets the diagnostic logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.numResources <= 0 {
		panic("number of resources must be positive")
	}

	if b.instances <= 0 {
		panic("number of instances must be positive")
	}

	if b.numSlots <= 0 {
		panic("number of slots must be positive")
	}

	if b.maxWorkers < 0 {
		panic("number of workers cannot be negative")
	}

	if b.tick == 0 {
		panic("tick must be positive")
	}

	if b.receiveTimeout < 0 || b.pace < 0 {
		panic("durations cannot be negative")
	}

	if b.policy == nil {
		panic("deadlock policy is not set")
	}
}

// Build creates the controller.
func (b Builder) Build() *Controller {
	b.parametersMustBeValid()

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	mailbox := b.mailbox
	if mailbox == nil {
		mailbox = msg.NewMailbox()
	}

	launcher := b.launcher
	if launcher == nil {
		launcher = process.NewGoroutineLauncher(
			context.Background(),
			mailbox,
			process.WorkerConfig{
				NumResources:   b.numResources,
				Actions:        b.actions,
				ActionInterval: b.actionInterval,
				Seed:           b.seed,
			},
			logger,
		)
	}

	events := b.events
	if events == nil {
		events = eventlog.New(io.Discard)
	}

	manager := process.NewManager(
		process.NewRegistry(b.numSlots), launcher, b.maxWorkers)
	if b.ids != nil {
		manager.WithIDGenerator(b.ids)
	}

	clock := sim.NewVClock()

	c := &Controller{
		clock:   clock,
		ticker:  sim.NewSecondTicker(clock),
		table: resource.NewTable(b.numResources, b.instances, b.numSlots).
			WithLogger(logger),
		manager:        manager,
		mailbox:        mailbox,
		policy:         b.policy,
		events:         events,
		logger:         logger,
		tick:           b.tick,
		receiveTimeout: b.receiveTimeout,
		pace:           b.pace,
	}

	c.publishStatus()

	return c
}
