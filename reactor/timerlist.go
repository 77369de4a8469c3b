// File: reactor/timerlist.go
// Author: momentics <momentics@gmail.com>
//
// TimerList is an ordered collection of Timers keyed by (deadline,
// insertion id), backed by container/heap. FireDue drains every timer
// whose deadline has passed, applying either the catch-up (phase-aligned
// realignment after a stall) or plain-pacing recurrence policy.

package reactor

import "container/heap"

// TimerList holds the timers owned by a single Reactor.
type TimerList struct {
	heap   timerHeap
	nextID uint64
}

// NewTimerList constructs an empty TimerList.
func NewTimerList() *TimerList {
	return &TimerList{}
}

// Len returns the number of timers currently scheduled.
func (tl *TimerList) Len() int { return tl.heap.Len() }

// Add inserts a new timer and returns it. insertion id is assigned
// monotonically so that timers with equal deadlines fire in the order
// they were added.
func (tl *TimerList) Add(deadline Instant, interval Duration, catchup bool, action Action) *Timer {
	if interval > 0 && interval < MinInterval {
		interval = MinInterval
	}
	tl.nextID++
	t := &Timer{
		deadline: deadline,
		interval: interval,
		catchup:  catchup,
		action:   action,
		id:       tl.nextID,
		list:     tl,
	}
	heap.Push(&tl.heap, t)
	return t
}

// PeekEarliest returns the timer with the smallest (deadline, id) key
// without removing it, or nil if the list is empty.
func (tl *TimerList) PeekEarliest() *Timer {
	if tl.heap.Len() == 0 {
		return nil
	}
	return tl.heap[0]
}

// remove deletes a timer from the heap by identity. No-op if the timer
// is not present (e.g. already popped for firing).
func (tl *TimerList) remove(t *Timer) {
	if t.index < 0 || t.index >= len(tl.heap) || tl.heap[t.index] != t {
		return
	}
	heap.Remove(&tl.heap, t.index)
}

// reinsert re-establishes heap order after a timer's deadline changed
// in place (via Reschedule called outside of firing).
func (tl *TimerList) reinsert(t *Timer) {
	if t.index < 0 || t.index >= len(tl.heap) || tl.heap[t.index] != t {
		return
	}
	heap.Fix(&tl.heap, t.index)
}

// FireDue pops and invokes every timer whose deadline is <= now, in
// (deadline, id) order, applying recurrence afterward. A recurring timer
// is re-inserted at its next deadline only once the drain finishes, so
// it fires at most once per call even when that deadline is still <= now.
// A timer created or rescheduled by a timer's action during this call
// may or may not fire in the same drain, depending on its deadline
// relative to now.
func (tl *TimerList) FireDue(now Instant) int {
	fired := 0
	var recurring []*Timer
	for {
		earliest := tl.PeekEarliest()
		if earliest == nil || earliest.deadline > now {
			for _, t := range recurring {
				heap.Push(&tl.heap, t)
			}
			return fired
		}
		t := heap.Pop(&tl.heap).(*Timer)
		t.firing = true
		t.rescheduled = false
		t.action(now)
		t.firing = false
		fired++

		if t.canceled {
			continue
		}
		if t.rescheduled {
			// Reschedule moved t.deadline in place while it was popped for
			// firing; reinsert at its new position instead of computing a
			// recurrence, since Reschedule already set the deadline it
			// wants.
			heap.Push(&tl.heap, t)
			continue
		}
		if t.interval <= 0 {
			continue
		}
		if t.catchup && now > t.deadline+Instant(t.interval) {
			behind := Duration(now - t.deadline)
			steps := behind / t.interval
			if behind%t.interval != 0 {
				steps++
			}
			t.deadline += Instant(steps * t.interval)
			if t.deadline <= now {
				t.deadline += Instant(t.interval)
			}
		} else {
			t.deadline += Instant(t.interval)
		}
		recurring = append(recurring, t)
	}
}

// timerHeap implements container/heap.Interface, ordering by
// (deadline, id) ascending.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].id < h[j].id
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
