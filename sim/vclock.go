package sim

import "fmt"

// NanosPerSec is the number of nanoseconds in one second of virtual time.
const NanosPerSec = 1_000_000_000

// VTime is a point in virtual time, split into whole seconds and the
// nanoseconds past that second. Nsec is always in [0, NanosPerSec).
type VTime struct {
	Sec  uint64 `json:"sec"`
	Nsec uint32 `json:"nsec"`
}

func (t VTime) String() string {
	return fmt.Sprintf("%d:%d", t.Sec, t.Nsec)
}

// TimeTeller can be used to get the current virtual time.
type TimeTeller interface {
	Now() VTime
}

// A VClock is the virtual clock of a simulation. Only its owner advances it;
// everyone else observes it through the value returned by Now.
type VClock struct {
	now VTime
}

// NewVClock creates a clock that starts at 0:0.
func NewVClock() *VClock {
	return &VClock{}
}

// Now returns the current virtual time.
func (c *VClock) Now() VTime {
	return c.now
}

// Advance moves the clock forward by delta nanoseconds. Overflowing
// nanoseconds are carried into seconds, however large delta is.
func (c *VClock) Advance(delta uint64) {
	total := uint64(c.now.Nsec) + delta

	c.now.Sec += total / NanosPerSec
	c.now.Nsec = uint32(total % NanosPerSec)
}

// A SecondTicker reports each crossing of an integer-second boundary exactly
// once, however many times it is polled in between.
type SecondTicker struct {
	clock   TimeTeller
	lastSec uint64
}

// NewSecondTicker creates a ticker that considers the clock's current second
// as already reported.
func NewSecondTicker(clock TimeTeller) *SecondTicker {
	return &SecondTicker{
		clock:   clock,
		lastSec: clock.Now().Sec,
	}
}

// Ticked returns true if the clock has entered a new second since the last
// time Ticked returned true.
func (t *SecondTicker) Ticked() bool {
	sec := t.clock.Now().Sec
	if sec <= t.lastSec {
		return false
	}

	t.lastSec = sec

	return true
}
