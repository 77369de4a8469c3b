// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package httpheader implements a minimal streaming parser for an
// HTTP/1.1 request line and header block: RFC 7230 line folding,
// case-insensitive lookup, and a bounded accumulator.
package httpheader
