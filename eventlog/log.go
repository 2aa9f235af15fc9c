// Package eventlog writes the human-readable log of a simulation: one line
// per protocol event, periodic resource table dumps and a final summary.
package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sarchlab/ossim/resource"
	"github.com/sarchlab/ossim/sim"
)

// DefaultMaxEvents is the number of events a Log accepts unless configured
// otherwise.
const DefaultMaxEvents = 100000

// Stats are the totals printed in the summary.
type Stats struct {
	Requests            uint64
	Releases            uint64
	Terminations        uint64
	DeadlockResolutions uint64
}

// A Log writes simulation events to a writer, and optionally mirrors them to
// a console. Events beyond the maximum are dropped silently. A Log never
// returns write errors to its caller; the first one is kept for Err.
type Log struct {
	out     *bufio.Writer
	console io.Writer
	verbose bool

	maxEvents int
	events    int
	dropped   int
	err       error
}

// New creates a Log that writes to out.
func New(out io.Writer) *Log {
	return &Log{
		out:       bufio.NewWriter(out),
		maxEvents: DefaultMaxEvents,
	}
}

// WithConsole mirrors everything written to the log onto console.
func (l *Log) WithConsole(console io.Writer) *Log {
	l.console = console
	l.verbose = console != nil
	return l
}

// WithMaxEvents sets the number of events after which events are dropped. A
// non-positive value removes the limit.
func (l *Log) WithMaxEvents(n int) *Log {
	l.maxEvents = n
	return l
}

// Record writes one event line.
func (l *Log) Record(format string, args ...any) {
	if !l.admit() {
		return
	}

	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	l.write(line)
}

// DumpTable writes the resource table as seen at now. A dump counts as one
// event.
func (l *Log) DumpTable(s resource.Snapshot, now sim.VTime) {
	if !l.admit() {
		return
	}

	var b strings.Builder

	fmt.Fprintf(&b, "\nTime %d:%d - Resource Table\n", now.Sec, now.Nsec)
	b.WriteString("Resource | Available | Allocated (per process)\n")

	for r, d := range s.Resources {
		fmt.Fprintf(&b, "%-8s | %-9d | ", fmt.Sprintf("R%d", r), d.Available)

		for _, n := range d.Allocated {
			fmt.Fprintf(&b, "%d ", n)
		}

		b.WriteString("\n")
	}

	b.WriteString("\n")

	l.write(b.String())
}

// Summary writes the final statistics. The summary is written even when the
// event limit has been reached.
func (l *Log) Summary(stats Stats) {
	var b strings.Builder

	b.WriteString("\n--- Simulation Summary ---\n")
	fmt.Fprintf(&b, "Total resource requests: %d\n", stats.Requests)
	fmt.Fprintf(&b, "Total resource releases: %d\n", stats.Releases)
	fmt.Fprintf(&b, "Total process terminations: %d\n", stats.Terminations)
	fmt.Fprintf(&b, "Total deadlock resolutions: %d\n",
		stats.DeadlockResolutions)
	b.WriteString("--------------------------\n")

	l.write(b.String())
}

func (l *Log) admit() bool {
	if l.maxEvents > 0 && l.events >= l.maxEvents {
		l.dropped++
		return false
	}

	l.events++

	return true
}

func (l *Log) write(s string) {
	if _, err := l.out.WriteString(s); err != nil && l.err == nil {
		l.err = err
	}

	if l.verbose {
		_, _ = io.WriteString(l.console, s)
	}
}

// Events returns the number of events written.
func (l *Log) Events() int {
	return l.events
}

// Dropped returns the number of events discarded because of the limit.
func (l *Log) Dropped() int {
	return l.dropped
}

// Flush writes any buffered data to the underlying writer.
func (l *Log) Flush() error {
	if err := l.out.Flush(); err != nil && l.err == nil {
		l.err = err
	}

	return l.err
}

// Err returns the first write error, if any.
func (l *Log) Err() error {
	return l.err
}
