/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package h1 implements the strict HTTP/1.1 message codec described in
// spec §4.3: a 7-state machine driven by the call pipeline's
// writeRequestHeaders / createRequestBody / readResponseHeaders /
// openResponseBodySource / trailers calls, over one socket at a time.
package h1

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"

	"github.com/badu/httpcore/internal/hdr"
)

// State is one node of the strict state machine from spec §4.3.
type State int

const (
	Idle State = iota
	OpenRequestBody
	WritingRequestBody
	ReadResponseHeaders
	OpenResponseBody
	ReadingResponseBody
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case OpenRequestBody:
		return "OPEN_REQUEST_BODY"
	case WritingRequestBody:
		return "WRITING_REQUEST_BODY"
	case ReadResponseHeaders:
		return "READ_RESPONSE_HEADERS"
	case OpenResponseBody:
		return "OPEN_RESPONSE_BODY"
	case ReadingResponseBody:
		return "READING_RESPONSE_BODY"
	case Closed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// ErrProtocolViolation is returned (wrapped) whenever a caller drives
// the codec out of its allowed transition order, or the wire violates
// HTTP/1.1 framing.
var ErrProtocolViolation = errors.New("h1: protocol violation")

// Codec is bound to one socket and is used by exactly one exchange at
// a time; its lifecycle is strictly linear (spec §5).
type Codec struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	state        State
	onNoReuse    func() // called when a violation makes the carrier unusable

	requestSentAt  func()
	sawFirstByte   func()
}

// NewCodec wraps conn with buffered I/O for one exchange at a time;
// the codec returns to IDLE after each fully read body and can then
// carry the next exchange.
func NewCodec(conn net.Conn, onNoReuse func()) *Codec {
	return &Codec{
		conn:      conn,
		br:        bufio.NewReader(conn),
		bw:        bufio.NewWriter(conn),
		state:     Idle,
		onNoReuse: onNoReuse,
	}
}

func (c *Codec) State() State { return c.state }

func (c *Codec) fail(err error) error {
	c.state = Closed
	if c.onNoReuse != nil {
		c.onNoReuse()
	}
	return err
}

func (c *Codec) requireState(want State) error {
	if c.state != want {
		return c.fail(fmt.Errorf("%w: in state %v, want %v", ErrProtocolViolation, c.state, want))
	}
	return nil
}

// WriteRequestHeaders writes the request line and headers. method/path
// are the raw wire tokens (already escaped); host is the Host header
// value. IDLE -> OPEN_REQUEST_BODY.
func (c *Codec) WriteRequestHeaders(method, path, host string, h hdr.Header) error {
	if err := c.requireState(Idle); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.bw, "%s %s HTTP/1.1\r\n", method, path); err != nil {
		return c.fail(err)
	}
	if _, err := fmt.Fprintf(c.bw, "Host: %s\r\n", host); err != nil {
		return c.fail(err)
	}
	if err := h.WriteSubset(c.bw, map[string]bool{hdr.Host: true}); err != nil {
		return c.fail(err)
	}
	if _, err := c.bw.WriteString("\r\n"); err != nil {
		return c.fail(err)
	}
	c.state = OpenRequestBody
	return nil
}

// CreateRequestBody returns an io.WriteCloser for the request body:
// chunked if contentLength < 0, known-length otherwise (0 returns a
// no-op writer that still flushes headers). OPEN_REQUEST_BODY ->
// WRITING_REQUEST_BODY.
func (c *Codec) CreateRequestBody(contentLength int64) (io.WriteCloser, error) {
	if err := c.requireState(OpenRequestBody); err != nil {
		return nil, err
	}
	c.state = WritingRequestBody
	if contentLength < 0 {
		return &chunkedWriter{bw: c.bw}, nil
	}
	return &fixedLengthWriter{bw: c.bw, remaining: contentLength}, nil
}

// FinishRequestBody flushes the buffered writer and transitions back
// toward a state ready for response reading. WRITING_REQUEST_BODY (or
// OPEN_REQUEST_BODY, for bodiless requests) -> READ_RESPONSE_HEADERS.
func (c *Codec) FinishRequestBody() error {
	if c.state != WritingRequestBody && c.state != OpenRequestBody {
		return c.fail(fmt.Errorf("%w: FinishRequestBody in state %v", ErrProtocolViolation, c.state))
	}
	if err := c.bw.Flush(); err != nil {
		return c.fail(err)
	}
	c.state = ReadResponseHeaders
	return nil
}

// StatusLine is the parsed first line of an HTTP/1.x response.
type StatusLine struct {
	Proto      string
	StatusCode int
	Status     string
}

// ReadResponseHeaders parses the status line and header block,
// transparently re-reading past 100/102/103 informational responses
// as spec §4.3 requires. READ_RESPONSE_HEADERS -> OPEN_RESPONSE_BODY.
func (c *Codec) ReadResponseHeaders() (StatusLine, hdr.Header, error) {
	if err := c.requireState(ReadResponseHeaders); err != nil {
		return StatusLine{}, hdr.Header{}, err
	}
	for {
		line, err := readLine(c.br)
		if err != nil {
			return StatusLine{}, hdr.Header{}, c.fail(err)
		}
		sl, err := parseStatusLine(line)
		if err != nil {
			return StatusLine{}, hdr.Header{}, c.fail(err)
		}
		tpReader := textproto.NewReader(c.br)
		mimeHeader, err := tpReader.ReadMIMEHeader()
		if err != nil && err != io.EOF {
			return StatusLine{}, hdr.Header{}, c.fail(err)
		}
		h := mimeHeaderToOrdered(mimeHeader)
		if sl.StatusCode >= 100 && sl.StatusCode < 200 && sl.StatusCode != 101 {
			// Informational: discard and read the next status line.
			continue
		}
		c.state = OpenResponseBody
		return sl, h, nil
	}
}

func mimeHeaderToOrdered(m map[string][]string) hdr.Header {
	var h hdr.Header
	for k, vs := range m {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

func parseStatusLine(line string) (StatusLine, error) {
	var sl StatusLine
	n, err := fmt.Sscanf(line, "%s %d", &sl.Proto, &sl.StatusCode)
	if err != nil || n < 2 {
		return StatusLine{}, fmt.Errorf("%w: malformed status line %q", ErrProtocolViolation, line)
	}
	if i := indexByte(line, ' '); i >= 0 {
		if j := indexByte(line[i+1:], ' '); j >= 0 {
			sl.Status = line[i+1+j+1:]
		}
	}
	return sl, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// BodyKind selects the response body framing strategy.
type BodyKind int

const (
	BodyFixed BodyKind = iota
	BodyChunked
	BodyUntilClose
)

// OpenResponseBodySource returns a reader for the response body. For
// BodyUntilClose it marks the carrier not reusable before returning.
// OPEN_RESPONSE_BODY -> READING_RESPONSE_BODY.
func (c *Codec) OpenResponseBodySource(kind BodyKind, contentLength int64) (io.Reader, error) {
	if err := c.requireState(OpenResponseBody); err != nil {
		return nil, err
	}
	c.state = ReadingResponseBody
	switch kind {
	case BodyFixed:
		return &fixedLengthReader{br: c.br, remaining: contentLength, onDone: func() { c.state = Idle }}, nil
	case BodyChunked:
		return &chunkedReader{br: c.br, onDone: func() { c.state = Idle }}, nil
	default:
		c.markNotReusable()
		return &untilCloseReader{br: c.br}, nil
	}
}

func (c *Codec) markNotReusable() {
	if c.onNoReuse != nil {
		c.onNoReuse()
	}
}

// Trailers returns trailer headers observed after a chunked body's
// terminating zero-size chunk. Permitted only once the body has been
// fully consumed (state back to IDLE) and the body was chunked; body
// must be the exact value OpenResponseBodySource(BodyChunked, ...)
// returned.
func (c *Codec) Trailers(body io.Reader) (hdr.Header, error) {
	if c.state != Idle {
		return hdr.Header{}, fmt.Errorf("%w: Trailers before body EOF", ErrProtocolViolation)
	}
	cr, ok := body.(*chunkedReader)
	if !ok {
		return hdr.Header{}, nil
	}
	return cr.trailers, nil
}

// Close transitions to CLOSED and marks the carrier unusable for new
// exchanges, regardless of current state.
func (c *Codec) Close() error {
	c.state = Closed
	if c.onNoReuse != nil {
		c.onNoReuse()
	}
	return c.conn.Close()
}
