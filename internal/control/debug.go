// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Runtime debug handler and probe reflector for internal inspection.

package control

import (
	"sync"
	"sync/atomic"
)

// Debug probe names published by the reactor. ProbePlatformCPUs is
// registered by the platform-specific RegisterPlatformProbes instead,
// since its value comes from runtime.NumCPU rather than a counter this
// package owns.
const (
	ProbeReactorCycleCount      = "reactor.cycle_count"
	ProbeReactorTimerFireCount  = "reactor.timer_fire_count"
	ProbeReactorFDDispatchCount = "reactor.fd_dispatch_count"
	ProbePlatformCPUs           = "platform.cpus"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts a named debug hook.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// RegisterCounterProbe registers a probe that reads counter's current
// value live, so DumpState reflects it without the owner having to push
// a Set call every cycle.
func (dp *DebugProbes) RegisterCounterProbe(name string, counter *atomic.Uint64) {
	dp.RegisterProbe(name, func() any { return counter.Load() })
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any)
	for k, fn := range dp.probes {
		out[k] = fn()
	}
	return out
}
