// Package vclock provides the clocks used to suspend simulated work.
//
// Simulated latency and discovery delay go through a Clock instead of
// time.Sleep. Deterministic runs use Stepping or Scheduler, which never touch
// the OS timer; System is for interactive use against real time.
package vclock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Epoch is the virtual time origin of Stepping and Scheduler.
var Epoch = time.Unix(0, 0).UTC()

// Clock is the suspension contract. Sleep suspends the calling task until
// the clock has advanced by d.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Resumer is implemented by clocks that run a continuation in a fixed order
// once a suspension ends. Scheduler uses it to serialize wake-ups.
type Resumer interface {
	SleepThen(d time.Duration, fn func())
}

// SleepThen suspends for d on c and then runs fn. If c implements Resumer the
// continuation is ordered by the clock; otherwise fn runs right after Sleep
// returns on the caller's goroutine.
func SleepThen(c Clock, d time.Duration, fn func()) {
	if r, ok := c.(Resumer); ok {
		r.SleepThen(d, fn)
		return
	}
	c.Sleep(d)
	if fn != nil {
		fn()
	}
}

// Elapsed returns the virtual time since Epoch.
func Elapsed(c Clock) time.Duration {
	return c.Now().Sub(Epoch)
}

// System returns a wall clock.
func System() Clock {
	return clock.New()
}
