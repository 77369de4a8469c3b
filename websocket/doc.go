// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package websocket implements the RFC 6455 server side on top of
// socket.Adapter and httpheader.Parser: the opening handshake, frame
// decode/encode, fragment reassembly, control-frame handling, and the
// closing handshake.
package websocket
