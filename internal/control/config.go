// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and hot-reload propagation.

package control

import (
	"sync"
)

// ConfigStore is a dynamic key/value map with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// Configuration keys for the reactor, socket adapter and header parser
// defaults, seeded by NewDefaultConfigStore. Those packages do not read
// a ConfigStore; they use their own Default* constants, so changing
// these values does not change their behavior.
const (
	KeyMaxSleep          = "reactor.max_sleep_us"
	KeyUnsentLowat        = "socket.unsent_lowat"
	KeyPerCycleWriteCap   = "socket.per_cycle_write_cap"
	KeyEpollBatchSize     = "reactor.epoll_batch_size"
	KeyInputBufferSize    = "socket.input_buffer_size"
	KeyHeaderAccumulatorCap = "httpheader.accumulator_cap"
)

// NewDefaultConfigStore returns a ConfigStore pre-seeded with the
// library's documented defaults.
func NewDefaultConfigStore() *ConfigStore {
	cs := NewConfigStore()
	cs.config[KeyMaxSleep] = int64(5_000_000) // 5s, in microseconds
	cs.config[KeyUnsentLowat] = 4096
	cs.config[KeyPerCycleWriteCap] = 2048
	cs.config[KeyEpollBatchSize] = 64
	cs.config[KeyInputBufferSize] = 65536
	cs.config[KeyHeaderAccumulatorCap] = 65536
	return cs
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	copy := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		copy[k] = v
	}
	return copy
}

// SetConfig merges new values and dispatches the reload listeners.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	cs.dispatchReload()
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// dispatchReload invokes all listeners.
func (cs *ConfigStore) dispatchReload() {
	for _, fn := range cs.listeners {
		go fn()
	}
}
