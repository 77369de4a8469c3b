// File: socket/sigpipe.go
// Author: momentics <momentics@gmail.com>
//
// Writing to a peer that has reset the connection raises SIGPIPE on the
// calling OS thread for raw fd writes (the Go runtime only installs its
// own handler for fds 0-2). Ignoring it process-wide turns that signal
// back into the ordinary EPIPE error code Write already handles.

package socket

import (
	"os/signal"
	"syscall"
)

func init() {
	signal.Ignore(syscall.SIGPIPE)
}
