// File: websocket/handshake.go
// Author: momentics <momentics@gmail.com>
//
// RFC 6455 opening handshake: request validation and the
// Sec-WebSocket-Accept token derivation.

package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/kestrelio/reactorws/httpheader"
	"github.com/kestrelio/reactorws/internal/apierr"
)

// GUID is the magic string RFC 6455 §1.3 mixes into the client's key.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptToken computes base64(SHA1(key ++ GUID)).
func AcceptToken(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(GUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// validHandshake checks the request line and headers against RFC 6455:
// GET method, HTTP version >= 1.1, Upgrade: websocket, Connection
// contains Upgrade, Sec-WebSocket-Version: 13, and a Sec-WebSocket-Key
// that base64-decodes to exactly 16 bytes. It returns the accept token
// on success.
func validHandshake(p *httpheader.Parser) (accept string, err error) {
	method, _, version, ok := splitRequestLine(p.RequestLine())
	if !ok || method != "GET" || !httpVersionAtLeast11(version) {
		return "", apierr.ErrBadHandshake.WithContext("request_line", p.RequestLine())
	}
	if !containsToken(p.Get("Upgrade"), "websocket") {
		return "", apierr.ErrBadHandshake.WithContext("reason", "missing Upgrade: websocket")
	}
	if !containsToken(p.Get("Connection"), "Upgrade") {
		return "", apierr.ErrBadHandshake.WithContext("reason", "missing Connection: Upgrade")
	}
	if p.Get("Sec-WebSocket-Version") != "13" {
		return "", apierr.ErrBadHandshake.WithContext("reason", "unsupported Sec-WebSocket-Version")
	}
	key := p.Get("Sec-WebSocket-Key")
	raw, decErr := base64.StdEncoding.DecodeString(key)
	if decErr != nil || len(raw) != 16 {
		return "", apierr.ErrBadHandshake.WithContext("reason", "invalid Sec-WebSocket-Key")
	}
	return AcceptToken(key), nil
}

// splitRequestLine parses "METHOD URI VERSION" into its three fields.
func splitRequestLine(line string) (method, uri, version string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", "", "", false
	}
	return fields[0], fields[1], fields[2], true
}

// httpVersionAtLeast11 accepts "HTTP/1.1" and any later HTTP/1.x or
// HTTP/2+ token; WebSocket upgrade is defined over HTTP/1.1 semantics.
func httpVersionAtLeast11(version string) bool {
	rest, ok := strings.CutPrefix(version, "HTTP/")
	if !ok {
		return false
	}
	majorStr, minorStr, _ := strings.Cut(rest, ".")
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return false
	}
	if major != 1 {
		return major > 1
	}
	minor, err := strconv.Atoi(minorStr)
	return err == nil && minor >= 1
}

// containsToken reports whether value is a comma-separated list
// containing token, case-insensitively.
func containsToken(value, token string) bool {
	token = strings.ToLower(token)
	for _, part := range strings.Split(value, ",") {
		if strings.ToLower(strings.TrimSpace(part)) == token {
			return true
		}
	}
	return false
}

// acceptResponse renders the 101 Switching Protocols upgrade response.
func acceptResponse(accept string) []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n" +
		"\r\n")
}

// badHandshakeResponse renders a minimal HTTP 400 for a failed upgrade.
func badHandshakeResponse() []byte {
	body := "Bad Request: invalid WebSocket handshake"
	return []byte("HTTP/1.1 400 Bad Request\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n" +
		"\r\n" + body)
}
