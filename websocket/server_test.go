package websocket

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kestrelio/reactorws/reactor"
	"github.com/kestrelio/reactorws/socket"
)

func newServerPair(t *testing.T) (srv *Server, peer int, r *reactor.Reactor) {
	t.Helper()
	rr, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	a, err := socket.Attach(rr, fds[0], socket.DefaultOptions())
	if err != nil {
		t.Fatalf("socket.Attach: %v", err)
	}
	s := New(rr, a, DefaultOptions())
	return s, fds[1], rr
}

func runReactor(t *testing.T, r *reactor.Reactor) (stop func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		_ = r.Run(0)
		close(done)
	}()
	return func() {
		r.Stop()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("reactor did not stop")
		}
	}
}

const handshakeRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"\r\n"

func readAll(t *testing.T, fd int, atLeast int, timeout time.Duration) []byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var out []byte
	buf := make([]byte, 4096)
	unix.SetNonblock(fd, true)
	for len(out) < atLeast && time.Now().Before(deadline) {
		n, err := unix.Read(fd, buf)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		out = append(out, buf[:n]...)
	}
	return out
}

func TestServerHandshakeCompletes(t *testing.T) {
	s, peer, r := newServerPair(t)
	defer unix.Close(peer)
	defer r.Close()

	opened := make(chan struct{}, 1)
	s.OnOpen(func() { opened <- struct{}{} })

	stop := runReactor(t, r)
	defer stop()

	if _, err := unix.Write(peer, []byte(handshakeRequest)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("OnOpen never fired")
	}

	resp := readAll(t, peer, len("HTTP/1.1 101"), time.Second)
	if len(resp) < 12 || string(resp[:12]) != "HTTP/1.1 101" {
		t.Fatalf("response = %q, want a 101 status line", resp)
	}
}

func TestServerEchoesTextMessage(t *testing.T) {
	s, peer, r := newServerPair(t)
	defer unix.Close(peer)
	defer r.Close()

	received := make(chan string, 1)
	s.OnMessage(func(opcode Opcode, payload []byte) {
		if opcode == OpText {
			received <- string(payload)
			_ = s.SendText(string(payload))
		}
	})

	stop := runReactor(t, r)
	defer stop()

	if _, err := unix.Write(peer, []byte(handshakeRequest)); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Drain the 101 response before sending frames.
	readAll(t, peer, 1, time.Second)

	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	frame := encodeMaskedClientFrame(true, OpText, []byte("ping"), key)
	if _, err := unix.Write(peer, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	select {
	case msg := <-received:
		if msg != "ping" {
			t.Fatalf("received = %q, want %q", msg, "ping")
		}
	case <-time.After(time.Second):
		t.Fatal("OnMessage never fired")
	}

	echoed := readAll(t, peer, 2, time.Second)
	if len(echoed) < 2 {
		t.Fatal("no echoed frame observed")
	}
	if echoed[0] != 0x80|byte(OpText) {
		t.Fatalf("echoed frame first byte = %x", echoed[0])
	}
}

func TestServerFragmentedMessageReassembly(t *testing.T) {
	s, peer, r := newServerPair(t)
	defer unix.Close(peer)
	defer r.Close()

	received := make(chan string, 1)
	s.OnMessage(func(opcode Opcode, payload []byte) {
		received <- string(payload)
	})

	stop := runReactor(t, r)
	defer stop()

	unix.Write(peer, []byte(handshakeRequest))
	readAll(t, peer, 1, time.Second) // drain the 101 response

	key := [4]byte{1, 2, 3, 4}
	first := encodeMaskedClientFrame(false, OpText, []byte("hello "), key)
	second := encodeMaskedClientFrame(true, OpContinuation, []byte("world"), key)
	unix.Write(peer, first)
	unix.Write(peer, second)

	select {
	case msg := <-received:
		if msg != "hello world" {
			t.Fatalf("reassembled = %q, want %q", msg, "hello world")
		}
	case <-time.After(time.Second):
		t.Fatal("fragmented message never reassembled")
	}
}

func TestServerPingReceivesPong(t *testing.T) {
	s, peer, r := newServerPair(t)
	defer unix.Close(peer)
	_ = s
	defer r.Close()

	stop := runReactor(t, r)
	defer stop()

	unix.Write(peer, []byte(handshakeRequest))
	readAll(t, peer, 1, time.Second)

	key := [4]byte{9, 8, 7, 6}
	unix.Write(peer, encodeMaskedClientFrame(true, OpPing, []byte("hi"), key))

	pong := readAll(t, peer, 2, time.Second)
	if len(pong) < 2 || pong[0] != 0x80|byte(OpPong) {
		t.Fatalf("pong frame = %v, want an unmasked pong echo", pong)
	}
}

func TestServerCloseHandshake(t *testing.T) {
	s, peer, r := newServerPair(t)
	defer unix.Close(peer)
	defer r.Close()

	closed := make(chan int, 1)
	s.OnClose(func(code int, reason string) { closed <- code })

	stop := runReactor(t, r)
	defer stop()

	unix.Write(peer, []byte(handshakeRequest))
	readAll(t, peer, 1, time.Second)

	key := [4]byte{1, 1, 1, 1}
	payload := []byte{0x03, 0xE8} // 1000 big-endian
	unix.Write(peer, encodeMaskedClientFrame(true, OpClose, payload, key))

	select {
	case code := <-closed:
		if code != CloseNormal {
			t.Fatalf("close code = %d, want %d", code, CloseNormal)
		}
	case <-time.After(time.Second):
		t.Fatal("OnClose never fired after peer-initiated close")
	}
}

func TestServerRejectsBadHandshake(t *testing.T) {
	s, peer, r := newServerPair(t)
	defer unix.Close(peer)
	defer r.Close()
	_ = s

	stop := runReactor(t, r)
	defer stop()

	unix.Write(peer, []byte("GET / HTTP/1.0\r\n\r\n"))

	resp := readAll(t, peer, len("HTTP/1.1 400"), time.Second)
	if len(resp) < 12 || string(resp[:12]) != "HTTP/1.1 400" {
		t.Fatalf("response = %q, want a 400 status line", resp)
	}
}
