// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package socket adapts a non-blocking stream socket fd into a Reactor:
// buffered, backpressure-aware writes, fair single-read-per-cycle
// delivery, and graceful shutdown once pending output drains.
package socket
