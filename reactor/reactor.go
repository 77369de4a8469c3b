// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Reactor is the single-threaded event loop: it multiplexes registered
// fd readiness, drains a FIFO deferred-task queue, and fires due timers,
// in that order, once per cycle.

package reactor

import (
	"bytes"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/kestrelio/reactorws/affinity"
	"github.com/kestrelio/reactorws/internal/apierr"
	"github.com/kestrelio/reactorws/internal/control"
)

// DefaultMaxSleep bounds the multiplex wait even when no timer is due soon,
// so clock-skew reaping and Stop() checks still happen periodically.
const DefaultMaxSleep Duration = 5 * Second

// fdAction is invoked when its fd becomes ready for the given condition.
type fdAction func(fd int, cond FDCondition)

type fdRegistration struct {
	fd       int
	interest FDCondition
	onRead   fdAction
	onWrite  fdAction
	onError  fdAction
}

// Reactor owns one OS-thread-equivalent goroutine's worth of fd
// multiplexing, timers and deferred work. Every exported method other
// than Stop must be called from the goroutine that is (or will) execute
// Run.
type Reactor struct {
	mux    multiplexer
	timers *TimerList
	tasks  *queue.Queue

	regs map[int]*fdRegistration

	cachedNow Instant
	running   atomic.Bool
	stopFlag  atomic.Bool
	loopGID   atomic.Uint64 // goroutine id currently executing Run, 0 if none

	maxSleep     Duration
	onEveryCycle func(now Instant)

	readyScratch []readyEvent

	metrics *control.MetricsRegistry

	cycleCount      atomic.Uint64
	timerFireCount  atomic.Uint64
	fdDispatchCount atomic.Uint64
}

// New constructs a Reactor with the platform-appropriate multiplexer.
func New() (*Reactor, error) {
	mux, err := newMultiplexer()
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeFatalIO, "reactor: create multiplexer", err)
	}
	return &Reactor{
		mux:      mux,
		timers:   NewTimerList(),
		tasks:    queue.New(),
		regs:     make(map[int]*fdRegistration),
		maxSleep: DefaultMaxSleep,
	}, nil
}

// SetMaxSleep overrides the default multiplex timeout cap (5s).
func (r *Reactor) SetMaxSleep(d Duration) { r.maxSleep = d }

// AttachMetrics wires m so every cycle publishes cycle/timer-fire/
// fd-dispatch counters into it. Safe to call before Run starts only.
func (r *Reactor) AttachMetrics(m *control.MetricsRegistry) { r.metrics = m }

// AttachDebugProbes registers this reactor's counters under dp, readable
// live from any goroutine via dp.DumpState.
func (r *Reactor) AttachDebugProbes(dp *control.DebugProbes) {
	dp.RegisterCounterProbe(control.ProbeReactorCycleCount, &r.cycleCount)
	dp.RegisterCounterProbe(control.ProbeReactorTimerFireCount, &r.timerFireCount)
	dp.RegisterCounterProbe(control.ProbeReactorFDDispatchCount, &r.fdDispatchCount)
}

func (r *Reactor) publishMetrics() {
	if r.metrics == nil {
		return
	}
	r.metrics.SetCounter(control.MetricReactorCycleCount, r.cycleCount.Load())
	r.metrics.SetCounter(control.MetricReactorTimerFireCount, r.timerFireCount.Load())
	r.metrics.SetCounter(control.MetricReactorFDDispatchCount, r.fdDispatchCount.Load())
}

// OnEveryCycle installs a hook invoked once at the end of every cycle,
// after timers fire and before the stop check.
func (r *Reactor) OnEveryCycle(hook func(now Instant)) { r.onEveryCycle = hook }

// Now returns the Instant cached at the start of the current cycle. Only
// meaningful while called from the reactor thread during Run.
func (r *Reactor) Now() Instant { return r.cachedNow }

// NowUncached samples the OS monotonic clock directly, bypassing the
// per-cycle cache. Safe from any thread.
func (r *Reactor) NowUncached() Instant { return nowUncached() }

// IsRunningOnThisThread reports whether the calling goroutine is the one
// currently executing this Reactor's Run loop.
func (r *Reactor) IsRunningOnThisThread() bool {
	gid := r.loopGID.Load()
	return gid != 0 && gid == goroutineID()
}

func (r *Reactor) assertOnThread(op string) {
	if !r.running.Load() {
		return // before Run starts, single-threaded construction is fine
	}
	if !r.IsRunningOnThisThread() {
		panic(apierr.ErrNotOnReactorThread.WithContext("op", op))
	}
}

// ScheduleAbsolute schedules action to fire at deadline, optionally
// recurring every interval (zero means one-shot).
func (r *Reactor) ScheduleAbsolute(deadline Instant, interval Duration, catchup bool, action Action) *Timer {
	r.assertOnThread("ScheduleAbsolute")
	return r.timers.Add(deadline, interval, catchup, action)
}

// ScheduleRelative is ScheduleAbsolute(Now()+delay, ...).
func (r *Reactor) ScheduleRelative(delay Duration, interval Duration, catchup bool, action Action) *Timer {
	r.assertOnThread("ScheduleRelative")
	return r.ScheduleAbsolute(r.cachedNow.Add(delay), interval, catchup, action)
}

// RegisterDescriptor registers action to run when fd becomes ready for
// the conditions in interest. Registering an fd that is already
// registered replaces its action set atomically.
func (r *Reactor) RegisterDescriptor(fd int, interest FDCondition, onRead, onWrite, onError fdAction) error {
	r.assertOnThread("RegisterDescriptor")
	reg := &fdRegistration{fd: fd, interest: interest, onRead: onRead, onWrite: onWrite, onError: onError}
	_, existed := r.regs[fd]
	r.regs[fd] = reg
	if existed {
		return r.mux.modify(fd, interest)
	}
	return r.mux.add(fd, interest)
}

// ModifyDescriptor changes the watched condition set for an already
// registered fd.
func (r *Reactor) ModifyDescriptor(fd int, interest FDCondition) error {
	r.assertOnThread("ModifyDescriptor")
	reg, ok := r.regs[fd]
	if !ok {
		return apierr.ErrNotRegistered.WithContext("fd", fd)
	}
	reg.interest = interest
	return r.mux.modify(fd, interest)
}

// UnregisterDescriptor stops watching fd entirely. A no-op if fd was not
// registered.
func (r *Reactor) UnregisterDescriptor(fd int) error {
	r.assertOnThread("UnregisterDescriptor")
	if _, ok := r.regs[fd]; !ok {
		return nil
	}
	delete(r.regs, fd)
	return r.mux.remove(fd)
}

// DoLater enqueues task to run at the start of the next cycle's deferred
// drain. Must be called from the reactor thread; cross-thread hand-off
// goes through a Performer instead.
func (r *Reactor) DoLater(task func()) {
	r.assertOnThread("DoLater")
	r.tasks.Add(task)
}

// Stop requests that Run return after completing its current cycle. Safe
// to call from any thread, any number of times.
func (r *Reactor) Stop() { r.stopFlag.Store(true) }

// PinToCPU locks the calling goroutine to its current OS thread and pins
// that thread to cpu. Call it from the same goroutine that is about to
// call Run, before calling it: one reactor per thread, placed on a
// dedicated core, with no thread pool behind it.
func (r *Reactor) PinToCPU(cpu int) error {
	runtime.LockOSThread()
	return affinity.Pin(cpu)
}

// Run executes the cycle algorithm until Stop is called or maxDuration
// elapses (a non-positive maxDuration means run forever). It returns nil
// on a normal stop, or an error if the multiplex call fails fatally.
//
// The computed sleep is clamped below at zero only; there is no
// configurable min_sleep floor above that to coalesce back-to-back
// wakeups under bursty timers.
func (r *Reactor) Run(maxDuration Duration) error {
	if r.running.Swap(true) {
		return apierr.New(apierr.CodeProgrammerError, "reactor: Run called while already running")
	}
	defer r.running.Store(false)

	r.loopGID.Store(goroutineID())
	defer r.loopGID.Store(0)

	var deadline Instant
	hasDeadline := maxDuration > 0
	if hasDeadline {
		deadline = nowUncached().Add(maxDuration)
	}

	for {
		now := nowUncached()
		r.cachedNow = now

		sleep := r.maxSleep
		if earliest := r.timers.PeekEarliest(); earliest != nil {
			untilTimer := earliest.Deadline().Sub(now)
			if untilTimer < sleep {
				sleep = untilTimer
			}
		}
		if r.tasks.Length() > 0 {
			sleep = 0
		}
		if sleep < 0 {
			sleep = 0
		}

		r.readyScratch = r.readyScratch[:0]
		ready, err := r.mux.wait(sleep, r.readyScratch)
		if err != nil {
			return apierr.Wrap(apierr.CodeFatalIO, "reactor: multiplex wait failed", err)
		}
		r.readyScratch = ready

		// Snapshot before fd dispatch: tasks queued by fd callbacks, by
		// this drain, or by timers run in the next cycle.
		drainCount := r.tasks.Length()
		for _, ev := range ready {
			reg, ok := r.regs[ev.fd]
			if !ok {
				continue
			}
			if ev.cond.Has(CondRead) && reg.onRead != nil {
				reg.onRead(ev.fd, CondRead)
				r.fdDispatchCount.Add(1)
			}
			if _, stillRegistered := r.regs[ev.fd]; !stillRegistered {
				continue
			}
			if ev.cond.Has(CondWrite) && reg.onWrite != nil {
				reg.onWrite(ev.fd, CondWrite)
				r.fdDispatchCount.Add(1)
			}
			if _, stillRegistered := r.regs[ev.fd]; !stillRegistered {
				continue
			}
			if ev.cond.Has(CondError) && reg.onError != nil {
				reg.onError(ev.fd, CondError)
				r.fdDispatchCount.Add(1)
			}
		}

		for i := 0; i < drainCount; i++ {
			task := r.tasks.Peek().(func())
			r.tasks.Remove()
			task()
		}

		fired := r.timers.FireDue(r.cachedNow)
		r.timerFireCount.Add(uint64(fired))
		r.cycleCount.Add(1)
		r.publishMetrics()

		if r.onEveryCycle != nil {
			r.onEveryCycle(r.cachedNow)
		}

		if r.stopFlag.Load() {
			return nil
		}
		if hasDeadline && nowUncached() >= deadline {
			return nil
		}
	}
}

// Close releases the multiplexer's own OS resources. Registered fds are
// left untouched; the reactor never closes fds it did not open.
func (r *Reactor) Close() error {
	return r.mux.close()
}

// goroutineID extracts the numeric id from this goroutine's runtime
// stack header ("goroutine 123 [running]:"). It is used only for the
// best-effort thread-locus checks IsRunningOnThisThread relies on; a
// parse failure yields 0, which never matches a stored loop id.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(buf, []byte(prefix)) {
		return 0
	}
	buf = buf[len(prefix):]
	end := bytes.IndexByte(buf, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(buf[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
