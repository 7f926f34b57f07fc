// Package retry runs an attempt function on a fixed schedule of delays.
//
// A Schedule is explicit about how many attempts happen and how far apart
// they are; nothing retries forever. Runs are driven by an event loop and
// can be cancelled at any point.
package retry

import (
	"time"

	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
)

// Schedule lists the delay before each attempt. Delays[0] is measured from
// Start, every later delay from the previous attempt.
type Schedule struct {
	Delays []time.Duration
}

// Fixed returns a schedule of attempts spaced by interval after an initial
// delay.
func Fixed(initial, interval time.Duration, attempts int) Schedule {
	if attempts <= 0 {
		return Schedule{}
	}
	delays := make([]time.Duration, attempts)
	delays[0] = initial
	for i := 1; i < attempts; i++ {
		delays[i] = interval
	}
	return Schedule{Delays: delays}
}

// Attempts returns the maximum number of attempts.
func (s Schedule) Attempts() int { return len(s.Delays) }

// Total returns the time from Start to the last attempt.
func (s Schedule) Total() time.Duration {
	var total time.Duration
	for _, d := range s.Delays {
		total += d
	}
	return total
}

// Attempt is called once per scheduled attempt with the 1-based attempt
// number. Returning true marks the run done and stops the schedule.
type Attempt func(n int) (done bool)

// Run is an in-flight schedule.
type Run struct {
	sched    eventloop.Scheduler
	schedule Schedule
	attempt  Attempt

	attempts int
	done     bool
	timer    *eventloop.Timer
}

// Start arms the first attempt of schedule on sched. All attempts run on
// the loop, so Run's methods must be called from the loop too.
func Start(sched eventloop.Scheduler, schedule Schedule, attempt Attempt) *Run {
	r := &Run{sched: sched, schedule: schedule, attempt: attempt}
	r.arm()
	return r
}

func (r *Run) arm() {
	if r.done {
		return
	}
	if r.attempts >= len(r.schedule.Delays) {
		r.done = true
		return
	}
	r.timer = r.sched.AfterFunc(r.schedule.Delays[r.attempts], r.fire)
}

func (r *Run) fire() {
	if r.done {
		return
	}
	r.timer = nil
	r.attempts++
	if r.attempt(r.attempts) {
		r.done = true
		return
	}
	r.arm()
}

// Cancel stops any remaining attempts.
func (r *Run) Cancel() {
	if r == nil || r.done {
		return
	}
	r.done = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Done reports whether the run has finished, been cancelled or exhausted
// its schedule.
func (r *Run) Done() bool { return r == nil || r.done }

// Attempts returns how many attempts have run so far.
func (r *Run) Attempts() int {
	if r == nil {
		return 0
	}
	return r.attempts
}
