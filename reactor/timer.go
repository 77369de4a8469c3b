// File: reactor/timer.go
// Author: momentics <momentics@gmail.com>
//
// Timer is a single scheduled callback, one-shot or recurring, with an
// optional catch-up recurrence policy. Timers are mutated only from the
// reactor thread (or before the owning reactor starts running).

package reactor

// MinInterval is the smallest recurrence interval a Timer will honor;
// smaller requested intervals are clamped up to this value.
const MinInterval Duration = 1 // 1 microsecond

// Action is invoked when a Timer fires, receiving the reactor's cached
// "now" for this cycle.
type Action func(now Instant)

// Timer is a node in a TimerList. While present in a list, (deadline, id)
// is its sort key; id is an insertion sequence number used to break ties
// in FIFO order among timers with equal deadlines.
type Timer struct {
	deadline    Instant
	interval    Duration
	catchup     bool
	action      Action
	canceled    bool
	firing      bool
	rescheduled bool

	id    uint64 // insertion order, assigned by TimerList.Add
	index int    // position in the backing heap, maintained by container/heap
	list  *TimerList
}

// Deadline returns the timer's next scheduled fire time.
func (t *Timer) Deadline() Instant { return t.deadline }

// Interval returns the timer's recurrence interval (zero for one-shot).
func (t *Timer) Interval() Duration { return t.interval }

// Canceled reports whether the timer has been canceled.
func (t *Timer) Canceled() bool { return t.canceled }

// Cancel removes the timer from its TimerList, if present, and marks it
// canceled. Canceling a timer during its own firing prevents reinsertion.
// Must be called from the reactor thread.
func (t *Timer) Cancel() {
	if t.canceled {
		return
	}
	t.canceled = true
	if t.list != nil && !t.firing {
		t.list.remove(t)
	}
}

// Reschedule sets an explicit new deadline, overriding the recurrence
// computation that would otherwise run after this firing. Valid both
// outside and during the timer's own action. Must be called from the
// reactor thread.
func (t *Timer) Reschedule(deadline Instant) {
	t.deadline = deadline
	t.rescheduled = true
	if t.list != nil && !t.firing {
		t.list.reinsert(t)
	}
}

// SetInterval mutates the recurrence interval. While firing=true, the
// mutation takes effect when the next deadline is computed, per the
// firing contract; outside a firing it applies immediately to future
// recurrences. A positive interval below MinInterval is clamped up to
// it; zero means one-shot.
func (t *Timer) SetInterval(interval Duration) {
	if interval > 0 && interval < MinInterval {
		interval = MinInterval
	}
	t.interval = interval
}

// SetCatchup toggles the catch-up recurrence policy.
func (t *Timer) SetCatchup(catchup bool) { t.catchup = catchup }
