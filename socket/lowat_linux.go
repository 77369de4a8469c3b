//go:build linux

// File: socket/lowat_linux.go
// Author: momentics <momentics@gmail.com>

package socket

import "golang.org/x/sys/unix"

// setNotsentLowat sets TCP_NOTSENT_LOWAT, bounding how much unsent data
// the kernel buffers before reporting the socket writable again. A
// failure (old kernel) is not fatal; the adapter simply gets less
// precise backpressure signaling.
func setNotsentLowat(fd, bytes int) {
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NOTSENT_LOWAT, bytes)
}
