package datarecording

import (
	"os"
	"strings"
	"time"
)

// ExecInfoTable is the table an ExecRecorder writes.
const ExecInfoTable = "exec_info"

// ExecInfoEntry is a row of the exec_info table.
type ExecInfoEntry struct {
	Property string
	Value    string
}

// An ExecRecorder records how the program was run: when it started and
// ended, the command line and the working directory.
type ExecRecorder struct {
	recorder DataRecorder
	entries  []ExecInfoEntry
}

// NewExecRecorder creates the exec_info table in recorder.
func NewExecRecorder(recorder DataRecorder) *ExecRecorder {
	recorder.CreateTable(ExecInfoTable, ExecInfoEntry{})

	return &ExecRecorder{recorder: recorder}
}

// Start collects the start time and the execution environment.
func (e *ExecRecorder) Start() {
	e.add("Start Time", timestamp(time.Now()))
	e.add("Command", strings.Join(os.Args, " "))

	cwd, err := os.Getwd()
	if err == nil {
		e.add("Working Directory", cwd)
	}
}

// Set records an extra property, such as a configuration value.
func (e *ExecRecorder) Set(property, value string) {
	e.add(property, value)
}

// End writes everything collected, along with the end time.
func (e *ExecRecorder) End() {
	e.add("End Time", timestamp(time.Now()))

	for _, entry := range e.entries {
		e.recorder.InsertData(ExecInfoTable, entry)
	}

	e.entries = nil

	e.recorder.Flush()
}

func (e *ExecRecorder) add(property, value string) {
	e.entries = append(e.entries, ExecInfoEntry{Property: property, Value: value})
}

func timestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05.000000000")
}
