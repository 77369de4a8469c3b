//go:build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux implementation via sched_setaffinity, called through
// golang.org/x/sys/unix rather than cgo so the module stays a single
// cross-compiling toolchain, matching how reactor's epoll backend
// already uses that package.

package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func setAffinityPlatform(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// pid 0 means the calling thread, per sched_setaffinity(2).
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity cpu=%d: %w", cpu, err)
	}
	return nil
}
