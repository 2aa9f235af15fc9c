package cmd

import (
	"fmt"
	"os"

	"github.com/sarchlab/ossim/config"
	"github.com/sarchlab/ossim/deadlock"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	configFlag  = "config"
	envFileFlag = "env-file"
)

// overlays copy the value of a changed flag from the flag-bound options into
// the effective configuration.
var overlays = map[string]func(dst, src *config.Config){
	"resources":       func(d, s *config.Config) { d.Resources = s.Resources },
	"instances":       func(d, s *config.Config) { d.Instances = s.Instances },
	"slots":           func(d, s *config.Config) { d.Slots = s.Slots },
	"max-workers":     func(d, s *config.Config) { d.MaxWorkers = s.MaxWorkers },
	"tick":            func(d, s *config.Config) { d.Tick = s.Tick },
	"receive-timeout": func(d, s *config.Config) { d.ReceiveTimeout = s.ReceiveTimeout },
	"pace":            func(d, s *config.Config) { d.Pace = s.Pace },
	"actions":         func(d, s *config.Config) { d.Actions = s.Actions },
	"action-interval": func(d, s *config.Config) { d.ActionInterval = s.ActionInterval },
	"seed":            func(d, s *config.Config) { d.Seed = s.Seed },
	"policy":          func(d, s *config.Config) { d.Policy = s.Policy },
	"log-file":        func(d, s *config.Config) { d.LogFile = s.LogFile },
	"verbose":         func(d, s *config.Config) { d.Verbose = s.Verbose },
	"max-events":      func(d, s *config.Config) { d.MaxEvents = s.MaxEvents },
	"log-level":       func(d, s *config.Config) { d.LogLevel = s.LogLevel },
	"record": func(d, s *config.Config) {
		d.Record.Enabled = true
		d.Record.Path = s.Record.Path
	},
	"record-type": func(d, s *config.Config) {
		d.Record.Enabled = true
		d.Record.Type = s.Record.Type
	},
	"record-dsn": func(d, s *config.Config) {
		d.Record.Enabled = true
		d.Record.ConnStr = s.Record.ConnStr
	},
	"monitor":      func(d, s *config.Config) { d.Monitor.Enabled = s.Monitor.Enabled },
	"monitor-port": func(d, s *config.Config) { d.Monitor.Port = s.Monitor.Port },
	"open-monitor": func(d, s *config.Config) {
		d.Monitor.OpenBrowser = s.Monitor.OpenBrowser
		if s.Monitor.OpenBrowser {
			d.Monitor.Enabled = true
		}
	},
}

func bindFlags(cmd *cobra.Command, opts *config.Config) {
	f := cmd.Flags()

	f.String(configFlag, "", "YAML file with the run configuration")
	f.String(envFileFlag, ".env",
		"file with OSSIM_* variables, skipped when missing")

	f.IntVar(&opts.Resources, "resources", opts.Resources,
		"number of resource types")
	f.IntVar(&opts.Instances, "instances", opts.Instances,
		"instances of each resource type")
	f.IntVarP(&opts.Slots, "slots", "s", opts.Slots,
		"maximum number of workers alive at the same time")
	f.IntVarP(&opts.MaxWorkers, "max-workers", "n", opts.MaxWorkers,
		"total number of workers launched over the run")
	f.Uint64VarP(&opts.Tick, "tick", "t", opts.Tick,
		"virtual nanoseconds the clock advances per iteration")
	f.DurationVar(&opts.ReceiveTimeout, "receive-timeout", opts.ReceiveTimeout,
		"how long an iteration waits for a message")
	f.DurationVar(&opts.Pace, "pace", opts.Pace,
		"real time slept between iterations")
	f.IntVar(&opts.Actions, "actions", opts.Actions,
		"actions each worker performs before terminating")
	f.DurationVar(&opts.ActionInterval, "action-interval", opts.ActionInterval,
		"real time a worker waits between actions")
	f.Uint64Var(&opts.Seed, "seed", opts.Seed,
		"seed of the worker action streams, 0 picks a random one")
	f.StringVar(&opts.Policy, "policy", opts.Policy,
		fmt.Sprintf("deadlock policy, one of %v", deadlock.Names()))

	f.StringVarP(&opts.LogFile, "log-file", "f", opts.LogFile,
		"file the event log is written to")
	f.BoolVarP(&opts.Verbose, "verbose", "v", opts.Verbose,
		"echo the event log to standard output")
	f.IntVar(&opts.MaxEvents, "max-events", opts.MaxEvents,
		"events written before the log is truncated")
	f.StringVar(&opts.LogLevel, "log-level", opts.LogLevel,
		"level of the diagnostic log (debug, info, warn, error)")

	f.StringVar(&opts.Record.Path, "record", opts.Record.Path,
		"record the run into the SQLite file with this name")
	f.StringVar(&opts.Record.Type, "record-type", opts.Record.Type,
		"recording backend (sqlite, clickhouse)")
	f.StringVar(&opts.Record.ConnStr, "record-dsn", opts.Record.ConnStr,
		"ClickHouse connection string")

	f.BoolVar(&opts.Monitor.Enabled, "monitor", opts.Monitor.Enabled,
		"serve the monitoring dashboard")
	f.IntVar(&opts.Monitor.Port, "monitor-port", opts.Monitor.Port,
		"port of the monitoring dashboard, 0 picks a free one")
	f.BoolVar(&opts.Monitor.OpenBrowser, "open-monitor",
		opts.Monitor.OpenBrowser, "open the dashboard in a browser")
}

// loadConfig layers the configuration. Defaults come first, then the YAML
// file, then OSSIM_* variables, then the flags set on the command line.
func loadConfig(cmd *cobra.Command, opts *config.Config) (config.Config, error) {
	cfg := config.Default()
	f := cmd.Flags()

	if path, _ := f.GetString(configFlag); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}

	envFile, _ := f.GetString(envFileFlag)
	if err := config.LoadDotEnv(envFile); err != nil {
		return cfg, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	applyChangedFlags(f, &cfg, opts)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func applyChangedFlags(f *pflag.FlagSet, dst, src *config.Config) {
	f.Visit(func(flag *pflag.Flag) {
		if overlay, ok := overlays[flag.Name]; ok {
			overlay(dst, src)
		}
	})
}
