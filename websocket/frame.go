// File: websocket/frame.go
// Author: momentics <momentics@gmail.com>
//
// Frame is a single RFC 6455 framing unit. Decoder incrementally parses
// frames out of a byte stream that may deliver arbitrarily small
// chunks, tracking the idle -> have-first-two-bytes ->
// have-extended-length -> have-mask-key -> draining-payload sub-states
// across calls to Feed.

package websocket

import (
	"encoding/binary"

	"github.com/kestrelio/reactorws/internal/apierr"
)

// Opcode identifies a frame's payload interpretation.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (op Opcode) isControl() bool { return op >= 0x8 }

// Frame is one decoded (and already unmasked) WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Payload []byte
}

// DefaultMaxPayload is the default frame payload cap.
const DefaultMaxPayload = 16 * 1024 * 1024

// decodeState is the frame decoder's sub-state machine.
type decodeState int

const (
	stateIdle decodeState = iota
	stateHaveLenByte
	stateHaveExtendedLength
	stateHaveMaskKey
	stateDrainingPayload
)

// Decoder incrementally decodes a stream of bytes into Frames. Bytes
// fed in via Feed accumulate in buf; each call to Next extracts one
// complete frame if one is available, leaving any partial frame
// buffered for the next Feed.
type Decoder struct {
	maxPayload int

	buf []byte
	pos int // bytes of buf already consumed by completed frames

	// in-progress header, valid once state > stateHaveLenByte
	fin        bool
	opcode     Opcode
	masked     bool
	payloadLen uint64
	maskKey    [4]byte

	state decodeState
}

// NewDecoder constructs a Decoder with the given payload cap (0 uses
// the default 16 MiB).
func NewDecoder(maxPayload int) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{maxPayload: maxPayload}
}

// Feed appends newly received bytes to the decode buffer.
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next attempts to decode one complete frame from the buffered bytes.
// ok is false when more bytes are needed; the caller should call Feed
// again and retry. A non-nil error is a protocol violation (oversize
// payload, or an unmasked frame from a server's point of view) and the
// connection must be closed.
func (d *Decoder) Next() (frame *Frame, ok bool, err error) {
	for {
		switch d.state {
		case stateIdle:
			if len(d.buf)-d.pos < 2 {
				d.compact()
				return nil, false, nil
			}
			b0 := d.buf[d.pos]
			b1 := d.buf[d.pos+1]
			d.fin = b0&0x80 != 0
			d.opcode = Opcode(b0 & 0x0F)
			d.masked = b1&0x80 != 0
			d.payloadLen = uint64(b1 & 0x7F)
			d.pos += 2
			d.state = stateHaveLenByte
			if !d.masked {
				return nil, false, apierr.New(apierr.CodeProtocolViolation, "websocket: client frame not masked")
			}
			if d.opcode.isControl() && (!d.fin || d.payloadLen > 125) {
				return nil, false, apierr.New(apierr.CodeProtocolViolation, "websocket: oversized or fragmented control frame")
			}

		case stateHaveLenByte:
			switch d.payloadLen {
			case 126:
				if len(d.buf)-d.pos < 2 {
					d.compact()
					return nil, false, nil
				}
				d.payloadLen = uint64(binary.BigEndian.Uint16(d.buf[d.pos:]))
				d.pos += 2
			case 127:
				if len(d.buf)-d.pos < 8 {
					d.compact()
					return nil, false, nil
				}
				d.payloadLen = binary.BigEndian.Uint64(d.buf[d.pos:])
				d.pos += 8
			}
			if d.payloadLen > uint64(d.maxPayload) {
				return nil, false, apierr.ErrFrameTooLarge.WithContext("len", d.payloadLen)
			}
			d.state = stateHaveExtendedLength

		case stateHaveExtendedLength:
			if len(d.buf)-d.pos < 4 {
				d.compact()
				return nil, false, nil
			}
			copy(d.maskKey[:], d.buf[d.pos:d.pos+4])
			d.pos += 4
			d.state = stateHaveMaskKey

		case stateHaveMaskKey:
			d.state = stateDrainingPayload

		case stateDrainingPayload:
			if uint64(len(d.buf)-d.pos) < d.payloadLen {
				d.compact()
				return nil, false, nil
			}
			payload := make([]byte, d.payloadLen)
			copy(payload, d.buf[d.pos:d.pos+int(d.payloadLen)])
			for i := range payload {
				payload[i] ^= d.maskKey[i%4]
			}
			d.pos += int(d.payloadLen)

			out := &Frame{Fin: d.fin, Opcode: d.opcode, Payload: payload}
			d.state = stateIdle
			return out, true, nil
		}
	}
}

// compact drops already-consumed bytes once they accumulate, so buf
// does not grow unboundedly across many small frames.
func (d *Decoder) compact() {
	if d.pos == 0 {
		return
	}
	d.buf = append(d.buf[:0], d.buf[d.pos:]...)
	d.pos = 0
}

// EncodeFrame serializes fin/opcode/payload as a single unmasked frame
// (server -> client is always unmasked per RFC 6455). No fragmentation
// on the send side.
func EncodeFrame(fin bool, opcode Opcode, payload []byte) []byte {
	var head byte
	if fin {
		head = 0x80
	}
	head |= byte(opcode) & 0x0F

	n := len(payload)
	var out []byte
	switch {
	case n <= 125:
		out = make([]byte, 2, 2+n)
		out[0] = head
		out[1] = byte(n)
	case n <= 0xFFFF:
		out = make([]byte, 4, 4+n)
		out[0] = head
		out[1] = 126
		binary.BigEndian.PutUint16(out[2:], uint16(n))
	default:
		out = make([]byte, 10, 10+n)
		out[0] = head
		out[1] = 127
		binary.BigEndian.PutUint64(out[2:], uint64(n))
	}
	return append(out, payload...)
}
