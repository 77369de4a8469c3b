// File: websocket/server.go
// Author: momentics <momentics@gmail.com>
//
// Server drives one connection's RFC 6455 lifecycle on top of a
// socket.Adapter: the HTTP/1.1 upgrade handshake, the frame decoder,
// fragment reassembly, control-frame handling, and outbound framing.

package websocket

import (
	"encoding/binary"
	"sync/atomic"
	"unicode/utf8"

	"github.com/kestrelio/reactorws/httpheader"
	"github.com/kestrelio/reactorws/internal/apierr"
	"github.com/kestrelio/reactorws/internal/control"
	"github.com/kestrelio/reactorws/reactor"
	"github.com/kestrelio/reactorws/socket"
)

// State is the connection's position in the RFC 6455 lifecycle.
type State int

const (
	StateExpectingHandshake State = iota
	StateOpen
	StateClosing
	StateClosed
)

// Close codes defined by RFC 6455 §7.4.1.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	CloseUnsupportedData = 1003
	ClosePolicy          = 1008
	CloseInternalError   = 1011
	CloseInvalidUTF8     = 1007
)

// DefaultCloseTimeout bounds how long CleanClose waits for the peer's
// answering Close frame before the socket is torn down unconditionally.
const DefaultCloseTimeout = 5 * reactor.Second

// Options tunes a single Server's limits.
type Options struct {
	MaxHeaderBlock int
	MaxPayload     int
	CloseTimeout   reactor.Duration
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxHeaderBlock: httpheader.DefaultMaxHeaderBlock,
		MaxPayload:     DefaultMaxPayload,
		CloseTimeout:   DefaultCloseTimeout,
	}
}

// Server drives the handshake and frame protocol for one connection.
type Server struct {
	r       *reactor.Reactor
	adapter *socket.Adapter
	opts    Options

	header  *httpheader.Parser
	decoder *Decoder

	state State

	fragmentOpcode Opcode // OpContinuation means "no fragment in progress"
	fragments      []byte

	closeTimer  *reactor.Timer
	closeCode   int
	closeReason string

	onOpen    func()
	onMessage func(opcode Opcode, payload []byte)
	onClose   func(code int, reason string)

	metrics   *control.MetricsRegistry
	framesIn  atomic.Uint64
	framesOut atomic.Uint64
}

// AttachMetrics wires m so every decoded/sent frame publishes cumulative
// frames-in/frames-out counters into it.
func (s *Server) AttachMetrics(m *control.MetricsRegistry) { s.metrics = m }

func (s *Server) publishFrameMetrics() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetCounter(control.MetricWebSocketFramesIn, s.framesIn.Load())
	s.metrics.SetCounter(control.MetricWebSocketFramesOut, s.framesOut.Load())
}

// sendFrame encodes and writes one server->client frame, counting it.
func (s *Server) sendFrame(fin bool, opcode Opcode, payload []byte) error {
	s.framesOut.Add(1)
	s.publishFrameMetrics()
	return s.adapter.WriteBytes(EncodeFrame(fin, opcode, payload))
}

// New wires a Server on top of adapter, bound to r for the close-
// handshake timeout timer. The Server installs its own OnReceive and
// OnClose hooks on adapter; callers should not install their own.
func New(r *reactor.Reactor, adapter *socket.Adapter, opts Options) *Server {
	if opts.MaxHeaderBlock <= 0 {
		opts.MaxHeaderBlock = httpheader.DefaultMaxHeaderBlock
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = DefaultMaxPayload
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	s := &Server{
		r:              r,
		adapter:        adapter,
		opts:           opts,
		header:         httpheader.New(opts.MaxHeaderBlock),
		decoder:        NewDecoder(opts.MaxPayload),
		fragmentOpcode: OpContinuation,
	}
	adapter.OnReceive(s.handleBytes)
	adapter.OnClose(s.handleAdapterClosed)
	return s
}

// OnOpen installs the callback fired once the handshake completes.
func (s *Server) OnOpen(cb func()) { s.onOpen = cb }

// OnMessage installs the callback fired with every reassembled TEXT or
// BINARY message.
func (s *Server) OnMessage(cb func(opcode Opcode, payload []byte)) { s.onMessage = cb }

// OnClose installs the callback fired once the connection reaches
// CLOSED, with the close code/reason if a Close frame was exchanged.
func (s *Server) OnClose(cb func(code int, reason string)) { s.onClose = cb }

// State reports the connection's current lifecycle stage.
func (s *Server) State() State { return s.state }

// handleBytes is the socket.Adapter receive callback: it either feeds
// the handshake parser or the frame decoder, depending on state.
func (s *Server) handleBytes(data []byte) (stop bool) {
	if s.state == StateExpectingHandshake {
		body, err := s.header.Feed(data)
		if err != nil {
			s.failHandshake()
			return true
		}
		if !s.header.Complete() {
			return false
		}
		if err := s.completeHandshake(); err != nil {
			s.failHandshake()
			return true
		}
		if len(body) > 0 {
			return s.feedFrames(body)
		}
		return false
	}
	return s.feedFrames(data)
}

// completeHandshake validates the accumulated headers, writes the 101
// response, and transitions to OPEN.
func (s *Server) completeHandshake() error {
	accept, err := validHandshake(s.header)
	if err != nil {
		return err
	}
	if err := s.adapter.WriteBytes(acceptResponse(accept)); err != nil {
		return err
	}
	s.state = StateOpen
	if s.onOpen != nil {
		s.onOpen()
	}
	return nil
}

// failHandshake answers 400 and tears the connection down; invalid
// handshakes never reach OPEN.
func (s *Server) failHandshake() {
	_ = s.adapter.WriteBytes(badHandshakeResponse())
	s.state = StateClosed
	s.adapter.Shutdown()
}

// feedFrames decodes as many frames as are buffered and dispatches
// each; it stops (returns true) once the adapter should stop reading,
// which happens only once the connection is fully CLOSED.
func (s *Server) feedFrames(data []byte) (stop bool) {
	s.decoder.Feed(data)
	for {
		frame, ok, err := s.decoder.Next()
		if err != nil {
			s.protocolError(err)
			return s.state == StateClosed
		}
		if !ok {
			return false
		}
		if s.dispatchFrame(frame) {
			return s.state == StateClosed
		}
	}
}

// dispatchFrame applies RFC 6455's opcode handling rules. It returns
// true if the caller should stop decoding further buffered bytes this
// call (the connection is closing or closed).
func (s *Server) dispatchFrame(f *Frame) (haltDecoding bool) {
	s.framesIn.Add(1)
	s.publishFrameMetrics()
	switch f.Opcode {
	case OpText, OpBinary:
		return s.handleDataFrame(f)
	case OpContinuation:
		return s.handleContinuation(f)
	case OpClose:
		return s.handlePeerClose(f)
	case OpPing:
		_ = s.sendFrame(true, OpPong, f.Payload)
		return false
	case OpPong:
		return false
	default:
		s.protocolError(apierr.New(apierr.CodeProtocolViolation, "websocket: unknown opcode"))
		return true
	}
}

func (s *Server) handleDataFrame(f *Frame) (halt bool) {
	if s.fragmentOpcode != OpContinuation {
		s.protocolError(apierr.New(apierr.CodeProtocolViolation, "websocket: data frame while fragment in progress"))
		return true
	}
	if f.Fin {
		return s.deliverMessage(f.Opcode, f.Payload)
	}
	s.fragmentOpcode = f.Opcode
	s.fragments = append(s.fragments[:0], f.Payload...)
	return false
}

func (s *Server) handleContinuation(f *Frame) (halt bool) {
	if s.fragmentOpcode == OpContinuation {
		s.protocolError(apierr.New(apierr.CodeProtocolViolation, "websocket: continuation without a started fragment"))
		return true
	}
	s.fragments = append(s.fragments, f.Payload...)
	if !f.Fin {
		return false
	}
	opcode := s.fragmentOpcode
	payload := s.fragments
	s.fragmentOpcode = OpContinuation
	s.fragments = nil
	return s.deliverMessage(opcode, payload)
}

// deliverMessage validates UTF-8 on completed text messages (the whole
// reassembled message, not each fragment) and surfaces the message to
// the application.
func (s *Server) deliverMessage(opcode Opcode, payload []byte) (halt bool) {
	if opcode == OpText && !utf8.Valid(payload) {
		s.closeWithCode(CloseInvalidUTF8, "invalid UTF-8 in text message")
		return true
	}
	if s.onMessage != nil {
		s.onMessage(opcode, payload)
	}
	return false
}

// handlePeerClose answers a Close frame with one of our own (echoing
// the code if present), per the OPEN -> CLOSING transition; CLOSING ->
// CLOSED happens once our Close frame is flushed.
func (s *Server) handlePeerClose(f *Frame) (halt bool) {
	code, reason := CloseNormal, ""
	if len(f.Payload) >= 2 {
		code = int(binary.BigEndian.Uint16(f.Payload[:2]))
		reason = string(f.Payload[2:])
	}

	switch s.state {
	case StateOpen:
		_ = s.sendFrame(true, OpClose, f.Payload)
		s.state = StateClosing
		s.finishClosing(code, reason)
	case StateClosing:
		if s.closeTimer != nil {
			s.closeTimer.Cancel()
			s.closeTimer = nil
		}
		s.finishClosing(code, reason)
	}
	return true
}

// finishClosing records code/reason and shuts the adapter down (which
// transitions to CLOSED once any queued Close frame has flushed); the
// adapter's close callback, handleAdapterClosed, then reports them.
func (s *Server) finishClosing(code int, reason string) {
	s.closeCode, s.closeReason = code, reason
	s.adapter.Shutdown()
}

// protocolError closes the connection with code 1002.
func (s *Server) protocolError(err error) {
	s.closeWithCode(CloseProtocolError, "")
}

// closeWithCode sends a Close frame carrying code/reason (best-effort;
// ignored if the adapter can no longer accept writes) and tears the
// connection down without waiting for the peer.
func (s *Server) closeWithCode(code int, reason string) {
	if s.state == StateClosed {
		return
	}
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], reason)
	_ = s.sendFrame(true, OpClose, payload)
	s.closeCode, s.closeReason = code, reason
	s.state = StateClosing
	s.adapter.Shutdown()
}

// SendText sends a single unfragmented TEXT frame.
func (s *Server) SendText(msg string) error {
	if s.state != StateOpen {
		return apierr.ErrSocketClosed
	}
	return s.sendFrame(true, OpText, []byte(msg))
}

// SendBinary sends a single unfragmented BINARY frame.
func (s *Server) SendBinary(data []byte) error {
	if s.state != StateOpen {
		return apierr.ErrSocketClosed
	}
	return s.sendFrame(true, OpBinary, data)
}

// CleanClose sends a Close frame and transitions to CLOSING, awaiting
// the peer's answering Close for up to the configured CloseTimeout
// before closing unconditionally.
func (s *Server) CleanClose(code int, reason string) error {
	if s.state != StateOpen {
		return apierr.New(apierr.CodeProgrammerError, "websocket: CleanClose requires state OPEN")
	}
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], reason)
	if err := s.sendFrame(true, OpClose, payload); err != nil {
		return err
	}
	s.state = StateClosing
	s.closeTimer = s.r.ScheduleRelative(s.opts.CloseTimeout, 0, false, func(reactor.Instant) {
		s.closeTimer = nil
		s.finishClosing(code, reason)
	})
	return nil
}

// handleAdapterClosed fires once the underlying socket actually closes,
// surfacing the negotiated (or best-effort) close code/reason.
func (s *Server) handleAdapterClosed(err error) {
	if s.closeTimer != nil {
		s.closeTimer.Cancel()
		s.closeTimer = nil
	}
	s.state = StateClosed
	code, reason := s.closeCode, s.closeReason
	if code == 0 {
		code = CloseNormal
		if err != nil {
			code = CloseInternalError
		}
	}
	if s.onClose != nil {
		s.onClose(code, reason)
	}
}
