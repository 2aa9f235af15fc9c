package datarecording

import (
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/structs"
	"github.com/sarchlab/ossim/controller"
	"github.com/sarchlab/ossim/resource"
	"github.com/sarchlab/ossim/sim"
)

// Tables written by a SimRecorder.
const (
	EventTable    = "events"
	SnapshotTable = "resource_snapshots"
	SummaryTable  = "summary"
)

// EventEntry is a row of the events table.
type EventEntry struct {
	Sec      uint64
	Nsec     uint32
	Kind     string
	Slot     int
	Resource int
	Sender   string
}

// SnapshotEntry is a row of the resource_snapshots table. Allocated lists
// the instances held by each slot, separated by spaces.
type SnapshotEntry struct {
	Sec       uint64
	Nsec      uint32
	Resource  int
	Total     int
	Available int
	Allocated string
}

// SummaryEntry is a row of the summary table.
type SummaryEntry struct {
	Counter string
	Value   uint64
}

// A SimRecorder is a hook that stores the events of a controller.
type SimRecorder struct {
	recorder DataRecorder
}

// NewSimRecorder creates the simulation tables in recorder.
func NewSimRecorder(recorder DataRecorder) *SimRecorder {
	recorder.CreateTable(EventTable, EventEntry{})
	recorder.CreateTable(SnapshotTable, SnapshotEntry{})
	recorder.CreateTable(SummaryTable, SummaryEntry{})

	return &SimRecorder{recorder: recorder}
}

// Func records one controller event.
func (r *SimRecorder) Func(ctx sim.HookCtx) {
	evt, ok := ctx.Item.(controller.Event)
	if !ok {
		return
	}

	r.recorder.InsertData(EventTable, EventEntry{
		Sec:      evt.Time.Sec,
		Nsec:     evt.Time.Nsec,
		Kind:     evt.Kind,
		Slot:     evt.Slot,
		Resource: evt.Resource,
		Sender:   evt.Sender,
	})

	if ctx.Pos != controller.HookPosTick {
		return
	}

	if snapshot, ok := ctx.Detail.(resource.Snapshot); ok {
		r.recordSnapshot(evt.Time, snapshot)
	}
}

func (r *SimRecorder) recordSnapshot(now sim.VTime, s resource.Snapshot) {
	for res, d := range s.Resources {
		held := make([]string, len(d.Allocated))
		for slot, n := range d.Allocated {
			held[slot] = strconv.Itoa(n)
		}

		r.recorder.InsertData(SnapshotTable, SnapshotEntry{
			Sec:       now.Sec,
			Nsec:      now.Nsec,
			Resource:  res,
			Total:     d.Total,
			Available: d.Available,
			Allocated: strings.Join(held, " "),
		})
	}
}

// RecordSummary stores the final counters and flushes the recorder.
func (r *SimRecorder) RecordSummary(counters controller.Counters) {
	values := structs.Map(counters)

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		r.recorder.InsertData(SummaryTable, SummaryEntry{
			Counter: name,
			Value:   values[name].(uint64),
		})
	}

	r.recorder.Flush()
}
