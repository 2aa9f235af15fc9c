// Package config gathers the settings of a simulation run from defaults, a
// YAML file, the environment and the command line.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sarchlab/ossim/controller"
	"github.com/sarchlab/ossim/datarecording"
	"github.com/sarchlab/ossim/deadlock"
	"github.com/sarchlab/ossim/eventlog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts the names of the environment variables that override the
// configuration.
const EnvPrefix = "OSSIM_"

// DefaultLogFile is where the event log goes unless configured otherwise.
const DefaultLogFile = "oss_log.txt"

// Config is everything that can be set for a run.
type Config struct {
	Resources      int           `yaml:"resources"`
	Instances      int           `yaml:"instances"`
	Slots          int           `yaml:"slots"`
	MaxWorkers     int           `yaml:"max_workers"`
	Tick           uint64        `yaml:"tick"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	Pace           time.Duration `yaml:"pace"`
	Actions        int           `yaml:"actions"`
	ActionInterval time.Duration `yaml:"action_interval"`
	Seed           uint64        `yaml:"seed"`
	Policy         string        `yaml:"policy"`

	LogFile   string `yaml:"log_file"`
	Verbose   bool   `yaml:"verbose"`
	MaxEvents int    `yaml:"max_events"`
	LogLevel  string `yaml:"log_level"`

	Record  RecordConfig  `yaml:"record"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// RecordConfig controls the database recording of a run.
type RecordConfig struct {
	Enabled bool `yaml:"enabled"`

	datarecording.RecorderConfig `yaml:",inline"`
}

// MonitorConfig controls the monitoring server.
type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	Port        int  `yaml:"port"`
	OpenBrowser bool `yaml:"open_browser"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Resources:      controller.DefaultNumResources,
		Instances:      controller.DefaultInstances,
		Slots:          controller.DefaultNumSlots,
		MaxWorkers:     controller.DefaultMaxWorkers,
		Tick:           controller.DefaultTick,
		ReceiveTimeout: controller.DefaultReceiveTimeout,
		Actions:        controller.DefaultActions,
		ActionInterval: controller.DefaultActionInterval,
		Policy:         deadlock.ExhaustedHolderName,
		LogFile:        DefaultLogFile,
		MaxEvents:      eventlog.DefaultMaxEvents,
		LogLevel:       "info",
	}
}

// LoadFile overlays the settings of a YAML file onto c. Unknown keys are
// errors.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	return c.Decode(f)
}

// Decode overlays YAML settings read from r onto c.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	err := dec.Decode(c)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding config: %w", err)
	}

	return nil
}

// LoadDotEnv loads variables from .env files into the environment, without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		_, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}

	return nil
}

// ApplyEnv overlays the OSSIM_* variables that lookup finds onto c.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	for _, v := range c.envVars() {
		raw, ok := lookup(EnvPrefix + v.name)
		if !ok {
			continue
		}

		if err := v.set(strings.TrimSpace(raw)); err != nil {
			errs = append(errs,
				fmt.Errorf("%s%s=%q: %w", EnvPrefix, v.name, raw, err))
		}
	}

	return errors.Join(errs...)
}

type envVar struct {
	name string
	set  func(string) error
}

func (c *Config) envVars() []envVar {
	return []envVar{
		{"RESOURCES", intSetter(&c.Resources)},
		{"INSTANCES", intSetter(&c.Instances)},
		{"SLOTS", intSetter(&c.Slots)},
		{"MAX_WORKERS", intSetter(&c.MaxWorkers)},
		{"TICK", uintSetter(&c.Tick)},
		{"RECEIVE_TIMEOUT", durationSetter(&c.ReceiveTimeout)},
		{"PACE", durationSetter(&c.Pace)},
		{"ACTIONS", intSetter(&c.Actions)},
		{"ACTION_INTERVAL", durationSetter(&c.ActionInterval)},
		{"SEED", uintSetter(&c.Seed)},
		{"POLICY", stringSetter(&c.Policy)},
		{"LOG_FILE", stringSetter(&c.LogFile)},
		{"VERBOSE", boolSetter(&c.Verbose)},
		{"MAX_EVENTS", intSetter(&c.MaxEvents)},
		{"LOG_LEVEL", stringSetter(&c.LogLevel)},
		{"RECORD", boolSetter(&c.Record.Enabled)},
		{"RECORD_TYPE", stringSetter(&c.Record.Type)},
		{"RECORD_PATH", stringSetter(&c.Record.Path)},
		{"RECORD_DSN", stringSetter(&c.Record.ConnStr)},
		{"MONITOR", boolSetter(&c.Monitor.Enabled)},
		{"MONITOR_PORT", intSetter(&c.Monitor.Port)},
		{"OPEN_MONITOR", boolSetter(&c.Monitor.OpenBrowser)},
	}
}

func intSetter(dst *int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err == nil {
			*dst = v
		}

		return err
	}
}

func uintSetter(dst *uint64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseUint(s, 10, 64)
		if err == nil {
			*dst = v
		}

		return err
	}
}

func durationSetter(dst *time.Duration) func(string) error {
	return func(s string) error {
		v, err := time.ParseDuration(s)
		if err == nil {
			*dst = v
		}

		return err
	}
}

func boolSetter(dst *bool) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseBool(s)
		if err == nil {
			*dst = v
		}

		return err
	}
}

func stringSetter(dst *string) func(string) error {
	return func(s string) error {
		*dst = s
		return nil
	}
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	var errs []error

	for _, f := range []struct {
		name  string
		value int
	}{
		{"resources", c.Resources},
		{"instances", c.Instances},
		{"slots", c.Slots},
		{"max_events", c.MaxEvents},
	} {
		if f.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", f.name))
		}
	}

	if c.MaxWorkers < 0 {
		errs = append(errs, errors.New("max_workers cannot be negative"))
	}

	if c.Tick == 0 {
		errs = append(errs, errors.New("tick must be positive"))
	}

	if c.Actions < 0 {
		errs = append(errs, errors.New("actions cannot be negative"))
	}

	if c.ReceiveTimeout < 0 || c.Pace < 0 || c.ActionInterval < 0 {
		errs = append(errs, errors.New("durations cannot be negative"))
	}

	if _, err := deadlock.ByName(c.Policy); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	if c.LogFile == "" {
		errs = append(errs, errors.New("log_file cannot be empty"))
	}

	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		errs = append(errs, fmt.Errorf("monitor port %d is out of range",
			c.Monitor.Port))
	}

	return errors.Join(errs...)
}

// Level parses the diagnostic log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(c.LogLevel))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}

	return level, nil
}

// ControllerBuilder returns a controller builder carrying the simulation
// parameters of c.
func (c *Config) ControllerBuilder() (controller.Builder, error) {
	policy, err := deadlock.ByName(c.Policy)
	if err != nil {
		return controller.Builder{}, err
	}

	return controller.MakeBuilder().
		WithNumResources(c.Resources).
		WithInstances(c.Instances).
		WithNumSlots(c.Slots).
		WithMaxWorkers(c.MaxWorkers).
		WithTick(c.Tick).
		WithReceiveTimeout(c.ReceiveTimeout).
		WithPace(c.Pace).
		WithActions(c.Actions).
		WithActionInterval(c.ActionInterval).
		WithSeed(c.Seed).
		WithPolicy(policy), nil
}
