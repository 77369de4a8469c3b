// File: socket/adapter.go
// Author: momentics <momentics@gmail.com>
//
// Adapter binds a non-blocking stream socket fd to a Reactor: it owns
// the read scratch buffer, the output byte queue, and the writability
// bookkeeping needed to never lose a queued write while open.

package socket

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/kestrelio/reactorws/internal/apierr"
	"github.com/kestrelio/reactorws/internal/control"
	"github.com/kestrelio/reactorws/reactor"
)

// State is the adapter's lifecycle stage.
type State int

const (
	StateOpen State = iota
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return "open"
	}
}

// DefaultInputBufferSize is the scratch buffer size for one read-edge
// syscall.
const DefaultInputBufferSize = 65536

// DefaultUnsentLowat is the TCP_NOTSENT_LOWAT hint used when not
// overridden, in bytes.
const DefaultUnsentLowat = 4096

// DefaultPerCycleWriteCap bounds how many output bytes a single
// WRITABLE edge attempts to send, so one very backed-up connection
// cannot starve the others registered on the same reactor.
const DefaultPerCycleWriteCap = 2048

// WritableProducer is a single-shot hook installed with
// NotifyWhenWritable. It runs once, before the buffered bytes drain on
// the same edge, and may itself call WriteBytes. Returning false
// (stop) uninstalls it; true (keep) leaves it installed for the next
// WRITABLE edge.
type WritableProducer func(a *Adapter) (keep bool)

// Options tunes a single Adapter's backpressure behavior.
type Options struct {
	UnsentLowat      int
	PerCycleWriteCap int
	InputBufferSize  int
}

// DefaultOptions returns the documented runtime defaults.
func DefaultOptions() Options {
	return Options{
		UnsentLowat:      DefaultUnsentLowat,
		PerCycleWriteCap: DefaultPerCycleWriteCap,
		InputBufferSize:  DefaultInputBufferSize,
	}
}

// Adapter owns one non-blocking socket fd registered with a Reactor.
// Every method other than construction must be called from the
// reactor's own goroutine.
type Adapter struct {
	fd      int
	reactor *reactor.Reactor
	opts    Options

	input  []byte
	output []byte

	writable WritableProducer

	onReceive func(data []byte) (stop bool)
	onClose   func(err error)

	state State

	readRegistered  bool
	writeRegistered bool

	metrics  *control.MetricsRegistry
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// AttachMetrics wires m so every successful read/write publishes
// cumulative bytes-in/bytes-out counters into it, keyed by fd.
func (a *Adapter) AttachMetrics(m *control.MetricsRegistry) { a.metrics = m }

// Attach wraps fd (already a connected, non-blocking stream socket) in
// an Adapter bound to r and applies the documented socket options. It
// does not register the fd with r; READABLE is registered once OnReceive
// installs a callback, WRITABLE once output or a producer is pending.
// The Adapter takes ownership of fd: Close, a completed Shutdown, or a
// fatal I/O error closes it.
func Attach(r *reactor.Reactor, fd int, opts Options) (*Adapter, error) {
	if opts.InputBufferSize <= 0 {
		opts.InputBufferSize = DefaultInputBufferSize
	}
	if opts.PerCycleWriteCap <= 0 {
		opts.PerCycleWriteCap = DefaultPerCycleWriteCap
	}
	if opts.UnsentLowat <= 0 {
		opts.UnsentLowat = DefaultUnsentLowat
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, apierr.Wrap(apierr.CodeFatalIO, "socket: set nonblock", err).WithContext("fd", fd)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	setNotsentLowat(fd, opts.UnsentLowat)

	a := &Adapter{
		fd:      fd,
		reactor: r,
		opts:    opts,
		input:   make([]byte, opts.InputBufferSize),
		state:   StateOpen,
	}
	return a, nil
}

// OnReceive installs the callback invoked with each non-empty slice of
// bytes read from the socket. Returning stop=true unregisters READABLE
// (half-close the read side without affecting pending writes).
func (a *Adapter) OnReceive(cb func(data []byte) (stop bool)) {
	a.onReceive = cb
	a.syncReadRegistration()
}

// OnClose installs the callback invoked exactly once when the adapter
// transitions to CLOSED, with a non-nil err if the close was triggered
// by an I/O failure rather than a graceful shutdown or peer EOF.
func (a *Adapter) OnClose(cb func(err error)) { a.onClose = cb }

// FD returns the underlying file descriptor, for callers that need it
// for logging or platform-specific diagnostics only; I/O must go
// through WriteBytes/OnReceive.
func (a *Adapter) FD() int { return a.fd }

// State reports the adapter's current lifecycle stage.
func (a *Adapter) State() State { return a.state }

// syncReadRegistration keeps READABLE registered iff state is OPEN and
// a receive callback is installed; called after any state/callback
// change that could affect it.
func (a *Adapter) syncReadRegistration() {
	want := a.state == StateOpen && a.onReceive != nil
	if want == a.readRegistered {
		return
	}
	a.readRegistered = want
	a.applyRegistration()
}

// syncWriteRegistration keeps WRITABLE registered iff there is
// buffered output or a pending producer.
func (a *Adapter) syncWriteRegistration() {
	want := len(a.output) > 0 || a.writable != nil
	if want == a.writeRegistered {
		return
	}
	a.writeRegistered = want
	a.applyRegistration()
}

func (a *Adapter) applyRegistration() {
	if a.state == StateClosed {
		return
	}
	var interest reactor.FDCondition
	if a.readRegistered {
		interest |= reactor.CondRead
	}
	if a.writeRegistered {
		interest |= reactor.CondWrite
	}
	if interest == 0 {
		_ = a.reactor.UnregisterDescriptor(a.fd)
		return
	}
	_ = a.reactor.RegisterDescriptor(a.fd, interest, a.handleReadable, a.handleWritable, a.handleError)
}

// handleReadable implements the read edge: at most one read syscall per
// cycle, to preserve fairness across connections sharing a reactor.
func (a *Adapter) handleReadable(fd int, cond reactor.FDCondition) {
	if a.state == StateClosed {
		return
	}
	n, err := unix.Read(a.fd, a.input)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR:
		return
	case n == 0 && err == nil:
		a.closeWith(nil)
		return
	case err != nil:
		a.closeWith(apierr.Wrap(apierr.CodePeerDisconnect, "socket: read failed", err).WithContext("fd", a.fd))
		return
	}

	a.bytesIn.Add(uint64(n))
	if a.metrics != nil {
		a.metrics.SetCounter(control.SocketBytesInKey(a.fd), a.bytesIn.Load())
	}

	if a.onReceive == nil {
		return
	}
	stop := a.onReceive(a.input[:n])
	if stop {
		a.onReceive = nil
		a.syncReadRegistration()
	}
}

// WriteBytes appends data to the output queue and ensures WRITABLE is
// registered so it drains on the next writable edge. Safe to call at
// any point while state != CLOSED; bytes queued while OPEN are never
// lost, only deferred until the socket accepts them.
func (a *Adapter) WriteBytes(data []byte) error {
	if a.state == StateClosed {
		return apierr.ErrSocketClosed.WithContext("fd", a.fd)
	}
	a.output = append(a.output, data...)
	a.syncWriteRegistration()
	return nil
}

// NotifyWhenWritable installs a single-shot producer that runs on the
// next WRITABLE edge, before the queued output buffer drains, so it may
// append bytes that piggyback on the same send.
func (a *Adapter) NotifyWhenWritable(p WritableProducer) {
	a.writable = p
	a.syncWriteRegistration()
}

// handleWritable implements the write edge: the pending producer (if
// any) runs first, then up to PerCycleWriteCap buffered bytes are sent.
func (a *Adapter) handleWritable(fd int, cond reactor.FDCondition) {
	if a.state == StateClosed {
		return
	}
	if a.writable != nil {
		p := a.writable
		a.writable = nil
		if keep := p(a); keep {
			a.writable = p
		}
	}

	if len(a.output) > 0 {
		n := len(a.output)
		if n > a.opts.PerCycleWriteCap {
			n = a.opts.PerCycleWriteCap
		}
		sent, err := unix.Write(a.fd, a.output[:n])
		switch {
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR:
			// leave bytes queued for the next edge
		case err != nil:
			a.closeWith(apierr.Wrap(apierr.CodePeerDisconnect, "socket: write failed", err).WithContext("fd", a.fd))
			return
		default:
			a.output = a.output[sent:]
			a.bytesOut.Add(uint64(sent))
			if a.metrics != nil {
				a.metrics.SetCounter(control.SocketBytesOutKey(a.fd), a.bytesOut.Load())
			}
		}
	}

	if len(a.output) == 0 && a.writable == nil {
		if a.state == StateShuttingDown {
			a.closeWith(nil)
			return
		}
	}
	a.syncWriteRegistration()
}

func (a *Adapter) handleError(fd int, cond reactor.FDCondition) {
	a.closeWith(apierr.New(apierr.CodePeerDisconnect, "socket: fd reported error/hangup").WithContext("fd", a.fd))
}

// Shutdown keeps sending queued bytes (WriteBytes still appends while
// shutting down) and transitions to CLOSED once the output buffer
// fully drains. Use Close for an immediate, possibly lossy,
// teardown.
func (a *Adapter) Shutdown() {
	if a.state != StateOpen {
		return
	}
	a.state = StateShuttingDown
	if len(a.output) == 0 {
		a.closeWith(nil)
		return
	}
}

// Close tears the adapter down immediately: unregisters both
// conditions, closes the fd, and invokes the close callback. Any bytes
// still queued in the output buffer are discarded.
func (a *Adapter) Close() error {
	a.closeWith(nil)
	return nil
}

func (a *Adapter) closeWith(err error) {
	if a.state == StateClosed {
		return
	}
	a.state = StateClosed
	_ = a.reactor.UnregisterDescriptor(a.fd)
	unix.Close(a.fd)
	if a.onClose != nil {
		a.onClose(err)
	}
}
