// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the core single-threaded event loop: fd
// readiness multiplexing (select or epoll), a priority-ordered timer list
// with catch-up recurrence, and a FIFO deferred-task queue. Aside from
// Stop, every method must be driven from the goroutine that called Run.
package reactor
