package controller

import "github.com/sarchlab/ossim/eventlog"

// Counters are the running totals of a simulation. They only grow.
type Counters struct {
	Requests            uint64 `json:"requests"`
	Releases            uint64 `json:"releases"`
	Terminations        uint64 `json:"terminations"`
	DeadlockResolutions uint64 `json:"deadlock_resolutions"`

	Granted         uint64 `json:"granted"`
	Denied          uint64 `json:"denied"`
	IgnoredReleases uint64 `json:"ignored_releases"`
	StaleMessages   uint64 `json:"stale_messages"`
	Spawned         uint64 `json:"spawned"`
	Reaped          uint64 `json:"reaped"`
}

// Stats returns the totals reported in the simulation summary.
func (c Counters) Stats() eventlog.Stats {
	return eventlog.Stats{
		Requests:            c.Requests,
		Releases:            c.Releases,
		Terminations:        c.Terminations,
		DeadlockResolutions: c.DeadlockResolutions,
	}
}
