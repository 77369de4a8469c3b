// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package performer implements cross-thread dispatch into a Reactor: a
// mutex-guarded FIFO plus a self-pipe wake, so any goroutine can run
// work on the reactor's own goroutine, synchronously or fire-and-forget.
package performer
