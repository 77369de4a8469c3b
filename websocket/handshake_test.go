package websocket

import (
	"testing"

	"github.com/kestrelio/reactorws/httpheader"
)

func TestAcceptTokenRFC6455Example(t *testing.T) {
	// The canonical worked example from RFC 6455 section 1.3.
	got := AcceptToken("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("AcceptToken = %q, want %q", got, want)
	}
}

func parsedHandshake(t *testing.T, raw string) *httpheader.Parser {
	t.Helper()
	p := httpheader.New(0)
	if _, err := p.Feed([]byte(raw)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !p.Complete() {
		t.Fatal("header block did not complete")
	}
	return p
}

func TestValidHandshakeAccepted(t *testing.T) {
	raw := "GET /chat HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	accept, err := validHandshake(parsedHandshake(t, raw))
	if err != nil {
		t.Fatalf("validHandshake: %v", err)
	}
	if accept != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("accept = %q", accept)
	}
}

func TestHandshakeRejectsWrongMethod(t *testing.T) {
	raw := "POST /chat HTTP/1.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	if _, err := validHandshake(parsedHandshake(t, raw)); err == nil {
		t.Fatal("expected rejection for non-GET method")
	}
}

func TestHandshakeRejectsMissingUpgrade(t *testing.T) {
	raw := "GET /chat HTTP/1.1\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	if _, err := validHandshake(parsedHandshake(t, raw)); err == nil {
		t.Fatal("expected rejection for missing Upgrade header")
	}
}

func TestHandshakeRejectsBadVersion(t *testing.T) {
	raw := "GET /chat HTTP/1.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 8\r\n" +
		"\r\n"
	if _, err := validHandshake(parsedHandshake(t, raw)); err == nil {
		t.Fatal("expected rejection for unsupported Sec-WebSocket-Version")
	}
}

func TestHandshakeRejectsShortKey(t *testing.T) {
	raw := "GET /chat HTTP/1.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dG9vc2hvcnQ=\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	if _, err := validHandshake(parsedHandshake(t, raw)); err == nil {
		t.Fatal("expected rejection for a key that does not decode to 16 bytes")
	}
}

func TestHandshakeConnectionHeaderIsTokenList(t *testing.T) {
	raw := "GET /chat HTTP/1.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: keep-alive, Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	if _, err := validHandshake(parsedHandshake(t, raw)); err != nil {
		t.Fatalf("validHandshake: %v, want acceptance of a comma-separated Connection list", err)
	}
}
