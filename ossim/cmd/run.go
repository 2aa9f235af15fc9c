package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/sarchlab/ossim/config"
	"github.com/sarchlab/ossim/controller"
	"github.com/sarchlab/ossim/datarecording"
	"github.com/sarchlab/ossim/eventlog"
	"github.com/sarchlab/ossim/monitoring"
	"github.com/sarchlab/ossim/msg"
	"github.com/sarchlab/ossim/process"
	"github.com/sarchlab/ossim/sim"
	"github.com/spf13/cobra"
)

const monitorShutdownTimeout = 5 * time.Second

func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	level, _ := cfg.Level()

	return slog.New(tint.NewHandler(cmd.ErrOrStderr(), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
	}))
}

func runSimulation(cmd *cobra.Command, cfg config.Config) error {
	logger := newLogger(cmd, cfg)
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logFile, err := os.Create(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}
	defer logFile.Close()

	events := eventlog.New(logFile).WithMaxEvents(cfg.MaxEvents)
	if cfg.Verbose {
		events.WithConsole(cmd.OutOrStdout())
	}

	builder, err := cfg.ControllerBuilder()
	if err != nil {
		return err
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	mailbox := msg.NewMailbox()
	launcher := process.NewGoroutineLauncher(workerCtx, mailbox,
		process.WorkerConfig{
			NumResources:   cfg.Resources,
			Actions:        cfg.Actions,
			ActionInterval: cfg.ActionInterval,
			Seed:           cfg.Seed,
		}, logger)

	// A seeded run also names its workers deterministically.
	if cfg.Seed != 0 {
		builder = builder.WithIDGenerator(sim.NewSequentialIDGenerator("w"))
	}

	c := builder.
		WithMailbox(mailbox).
		WithLauncher(launcher).
		WithEventWriter(events).
		WithLogger(logger).
		Build()
	c.AcceptHook(sim.NewEventLogger(logger))

	fmt.Fprintf(cmd.OutOrStdout(),
		"Resources initialized: Each resource has %d instances.\n",
		cfg.Instances)

	var rec *recording
	if cfg.Record.Enabled {
		rec, err = startRecording(cfg, c, launcher.Seed())
		if err != nil {
			return err
		}
	}

	if cfg.Monitor.Enabled {
		stopMonitor, err := startMonitor(cfg, c, logger)
		if err != nil {
			return err
		}
		defer stopMonitor()
	}

	// A paused loop only observes cancellation once it runs again.
	stopContinue := context.AfterFunc(ctx, c.Continue)
	defer stopContinue()

	runErr := c.Run(ctx)

	stopWorkers()
	launcher.KillAll()
	launcher.Wait()

	if rec != nil {
		if err := rec.finish(c.Counters()); err != nil {
			logger.Error("closing recorder", "err", err)
		}
	}

	if err := events.Flush(); err != nil {
		logger.Error("writing event log", "file", cfg.LogFile, "err", err)
	}

	if dropped := events.Dropped(); dropped > 0 {
		logger.Warn("event log truncated",
			"written", events.Events(), "dropped", dropped)
	}

	if errors.Is(runErr, context.Canceled) {
		logger.Warn("simulation interrupted")
		return nil
	}

	if runErr != nil {
		return runErr
	}

	logger.Info("simulation complete", "log", cfg.LogFile)

	return nil
}

type recording struct {
	recorder datarecording.DataRecorder
	exec     *datarecording.ExecRecorder
	sim      *datarecording.SimRecorder
}

func startRecording(
	cfg config.Config,
	c *controller.Controller,
	seed uint64,
) (*recording, error) {
	recorder, err := datarecording.NewWithConfig(cfg.Record.RecorderConfig)
	if err != nil {
		return nil, fmt.Errorf("opening recorder: %w", err)
	}

	exec := datarecording.NewExecRecorder(recorder)
	exec.Start()
	exec.Set("Policy", cfg.Policy)
	exec.Set("Resources", strconv.Itoa(cfg.Resources))
	exec.Set("Instances", strconv.Itoa(cfg.Instances))
	exec.Set("Slots", strconv.Itoa(cfg.Slots))
	exec.Set("MaxWorkers", strconv.Itoa(cfg.MaxWorkers))
	exec.Set("Seed", strconv.FormatUint(seed, 10))

	simRecorder := datarecording.NewSimRecorder(recorder)
	c.AcceptHook(simRecorder)

	return &recording{
		recorder: recorder,
		exec:     exec,
		sim:      simRecorder,
	}, nil
}

func (r *recording) finish(counters controller.Counters) error {
	r.sim.RecordSummary(counters)
	r.exec.End()

	return r.recorder.Close()
}

func startMonitor(
	cfg config.Config,
	c *controller.Controller,
	logger *slog.Logger,
) (func(), error) {
	m := monitoring.NewMonitor().
		WithPortNumber(cfg.Monitor.Port).
		WithLogger(logger)
	if cfg.Monitor.OpenBrowser {
		m = m.WithBrowser()
	}

	m.RegisterTarget(c)
	m.RegisterComponent("table", c.Table())
	m.RegisterComponent("registry", c.Manager().Registry())
	m.RegisterComponent("mailbox", c.Mailbox())

	bar := m.CreateProgressBar("Workers", uint64(cfg.MaxWorkers))
	c.AcceptHook(monitoring.WorkerProgress(bar))

	if _, err := m.StartServer(); err != nil {
		return nil, err
	}

	return func() {
		m.CompleteProgressBar(bar)

		ctx, cancel := context.WithTimeout(
			context.Background(), monitorShutdownTimeout)
		defer cancel()

		if err := m.StopServer(ctx); err != nil {
			logger.Warn("stopping monitoring server", "err", err)
		}
	}, nil
}
