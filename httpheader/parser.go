// File: httpheader/parser.go
// Author: momentics <momentics@gmail.com>
//
// Parser is a streaming RFC 9110 request-line + header-block parser. It
// accumulates bytes across receive callbacks until the end-of-headers
// marker appears, then exposes the request line and a case-insensitive,
// order-preserving header multimap. A configurable cap on the
// accumulator bounds memory use against a peer that never sends a
// terminator.

package httpheader

import (
	"bytes"
	"strings"

	"github.com/kestrelio/reactorws/internal/apierr"
)

// DefaultMaxHeaderBlock is the default header accumulator cap.
const DefaultMaxHeaderBlock = 65536

// Header is one (name, value) pair in original request order.
type Header struct {
	Name  string
	Value string
}

// Parser accumulates bytes across calls to Feed until the header block
// is complete, then exposes RequestLine/Headers and any body bytes that
// arrived appended to the same chunk.
type Parser struct {
	maxBlock int

	accumulator []byte
	complete    bool

	requestLine string
	headers     []Header
	index       map[string][]string
}

// New constructs a Parser with the given accumulator cap (0 uses the
// default 65536 bytes).
func New(maxBlock int) *Parser {
	if maxBlock <= 0 {
		maxBlock = DefaultMaxHeaderBlock
	}
	return &Parser{maxBlock: maxBlock}
}

// Complete reports whether the header block has been fully parsed.
func (p *Parser) Complete() bool { return p.complete }

// RequestLine returns the verbatim first line (e.g. "GET /chat HTTP/1.1").
func (p *Parser) RequestLine() string { return p.requestLine }

// Headers returns every (name, value) pair in the order they appeared,
// after RFC 7230 line-folding has been resolved.
func (p *Parser) Headers() []Header { return p.headers }

// Get performs a case-insensitive lookup, joining multiple occurrences
// with ", " — except Set-Cookie, which RFC 9110 forbids combining; for
// that header only the first occurrence is returned by Get (use
// GetAll for the full list).
func (p *Parser) Get(name string) string {
	vals := p.GetAll(name)
	if len(vals) == 0 {
		return ""
	}
	if strings.EqualFold(name, "Set-Cookie") {
		return vals[0]
	}
	return strings.Join(vals, ", ")
}

// GetAll returns every value associated with name, case-insensitive, in
// original order.
func (p *Parser) GetAll(name string) []string {
	return p.index[strings.ToLower(name)]
}

// Feed appends data to the accumulator and, if the header block is not
// yet complete, scans for the end-of-headers marker. It returns the
// body bytes found after the marker within this call's data (empty if
// the block is still incomplete, or if data was entirely headers). Once
// complete is true, subsequent Feed calls return their entire argument
// as body bytes without touching the accumulator.
func (p *Parser) Feed(data []byte) ([]byte, error) {
	if p.complete {
		return data, nil
	}

	if len(p.accumulator)+len(data) > p.maxBlock {
		return nil, apierr.ErrHeaderTooLarge.WithContext("cap", p.maxBlock)
	}
	p.accumulator = append(p.accumulator, data...)

	markerLen, at := findHeaderEnd(p.accumulator)
	if at < 0 {
		return nil, nil
	}

	headerBlock := p.accumulator[:at]
	body := p.accumulator[at+markerLen:]
	p.accumulator = nil

	if err := p.parseBlock(headerBlock); err != nil {
		return nil, err
	}
	p.complete = true
	return body, nil
}

// findHeaderEnd returns the length of whichever terminator matched
// first ("\r\n\r\n" or "\n\n") and its byte offset, or (0, -1) if
// neither has appeared yet.
func findHeaderEnd(buf []byte) (markerLen, at int) {
	if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
		return 4, i
	}
	if i := bytes.Index(buf, []byte("\n\n")); i >= 0 {
		return 2, i
	}
	return 0, -1
}

// parseBlock splits headerBlock into the request line plus folded
// header lines, validating header-name token grammar per RFC 9110 §5.6.2.
func (p *Parser) parseBlock(headerBlock []byte) error {
	text := string(headerBlock)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	rawLines := strings.Split(text, "\n")
	if len(rawLines) == 0 || rawLines[0] == "" {
		return apierr.ErrMalformedHeaders
	}

	p.requestLine = rawLines[0]
	p.headers = p.headers[:0]
	p.index = make(map[string][]string)

	var curName, curValue string
	haveCur := false
	flush := func() {
		if !haveCur {
			return
		}
		p.headers = append(p.headers, Header{Name: curName, Value: curValue})
		key := strings.ToLower(curName)
		p.index[key] = append(p.index[key], curValue)
		haveCur = false
	}

	for _, line := range rawLines[1:] {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			// RFC 7230 obsolete line folding: continuation of the
			// previous header's value, joined with a single space.
			if !haveCur {
				return apierr.ErrMalformedHeaders
			}
			curValue += " " + strings.TrimSpace(line)
			continue
		}
		flush()

		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return apierr.ErrMalformedHeaders
		}
		name := line[:colon]
		if !isValidToken(name) {
			return apierr.ErrMalformedHeaders
		}
		curName = name
		curValue = strings.TrimSpace(line[colon+1:])
		haveCur = true
	}
	flush()
	return nil
}

// isValidToken reports whether s matches the RFC 9110 §5.6.2 token
// grammar used for header field names.
func isValidToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isTokenChar(c) {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
