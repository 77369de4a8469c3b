//go:build !linux

// File: socket/lowat_other.go
// Author: momentics <momentics@gmail.com>

package socket

// setNotsentLowat is a no-op outside Linux; TCP_NOTSENT_LOWAT has no
// portable equivalent and the adapter's own output-buffer cap already
// bounds unsent bytes offered to the OS per cycle.
func setNotsentLowat(fd, bytes int) {}
