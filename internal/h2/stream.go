/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package h2

import (
	"errors"
	"io"
	"sync"
)

// StreamState is one of the five states a Stream passes through; see
// spec §3 Stream (H2) and §4.5 "Stream state machine".
type StreamState int

const (
	StateIdle StreamState = iota
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateHalfClosedLocal:
		return "half-closed (local)"
	case StateHalfClosedRemote:
		return "half-closed (remote)"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamResetError is delivered to any reader/writer blocked on a
// stream that receives RST_STREAM.
type StreamResetError struct {
	Code ErrCode
}

func (e *StreamResetError) Error() string { return "h2: stream reset, error code " + e.Code.Error() }

var (
	ErrStreamClosed = errors.New("h2: stream closed")
	ErrFlowControl  = errors.New("h2: flow control window exceeded")
)

// FramingSource is the read side of a stream: DATA frame payloads are
// appended as they arrive and consumed by Read.
type FramingSource struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    [][]byte
	eof    bool
	err    error
}

func newFramingSource() *FramingSource {
	s := &FramingSource{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// push appends data received in a DATA frame; endStream marks no more
// data will follow.
func (s *FramingSource) push(data []byte, endStream bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(data) > 0 {
		s.buf = append(s.buf, data)
	}
	if endStream {
		s.eof = true
	}
	s.cond.Broadcast()
}

func (s *FramingSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	s.cond.Broadcast()
}

// Read drains buffered DATA payloads, blocking until data, EOF, or an
// error is available. It returns the number of bytes copied.
func (s *FramingSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.eof && s.err == nil {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	n := copy(p, s.buf[0])
	s.buf[0] = s.buf[0][n:]
	if len(s.buf[0]) == 0 {
		s.buf = s.buf[1:]
	}
	return n, nil
}

var errEOFStream = errors.New("h2: stream EOF")

// FramingSink is the write side of a stream: WriteChunk splits data
// into frames no larger than the peer's MAX_FRAME_SIZE and blocks on
// the stream's outbound flow-control window.
type FramingSink struct {
	stream *Stream
}

func (s *FramingSink) WriteChunk(data []byte, endStream bool) error {
	return s.stream.writeData(data, endStream)
}

// Stream is one HTTP/2 request/response exchange multiplexed onto a
// shared Conn. Its id parity identifies the initiator: odd ids are
// client-initiated (spec §3).
type Stream struct {
	id   uint32
	conn *Conn

	mu                sync.Mutex
	state             StreamState
	readBytes         int64
	writeBytesTotal   int64
	writeBytesMaximum int64 // outbound flow-control window, mutated by WINDOW_UPDATE and SETTINGS deltas
	unacked           int64 // inbound bytes not yet returned to the peer via WINDOW_UPDATE
	errorCode         ErrCode
	errorException    error

	headersQueue []HeaderBlock
	windowReady  *sync.Cond
	headersReady *sync.Cond

	pendingHeaderBlock []byte // accumulates HEADERS + CONTINUATION fragments until END_HEADERS
	pendingEndStream   bool   // END_STREAM flag observed on the HEADERS frame that opened pendingHeaderBlock

	Source *FramingSource
	Sink   *FramingSink
}

// HeaderBlock is one decoded HEADERS (or trailer) block delivered to
// the stream's headersQueue, in arrival order.
type HeaderBlock struct {
	Fields     []HeaderFieldLike
	EndStream  bool
	IsTrailer  bool
}

// HeaderFieldLike mirrors hpack.HeaderField without importing the
// hpack package from this file (kept decoupled so frame.go/stream.go
// have no hpack dependency; Conn wires the two together).
type HeaderFieldLike struct {
	Name, Value string
}

func newStream(id uint32, conn *Conn, initialWindow int64) *Stream {
	st := &Stream{
		id:                id,
		conn:              conn,
		state:             StateIdle,
		writeBytesMaximum: initialWindow,
		Source:            newFramingSource(),
	}
	st.windowReady = sync.NewCond(&st.mu)
	st.headersReady = sync.NewCond(&st.mu)
	st.Sink = &FramingSink{stream: st}
	return st
}

// PopHeadersNonBlocking returns the oldest queued HeaderBlock without
// blocking, for callers (trailers) that must not hang when the peer
// never sends a second HEADERS block.
func (s *Stream) PopHeadersNonBlocking() (HeaderBlock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.headersQueue) == 0 {
		return HeaderBlock{}, false
	}
	b := s.headersQueue[0]
	s.headersQueue = s.headersQueue[1:]
	return b, true
}

// TakeHeaders blocks until a HEADERS (or trailer) block has arrived
// for this stream and returns the oldest one queued, per spec §3's
// "inbound headersQueue (one list per HEADERS block received)". It
// returns the stream's terminal error once the queue is drained and
// the stream has been reset or the connection torn down.
func (s *Stream) TakeHeaders() (HeaderBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.headersQueue) == 0 {
		if s.errorException != nil {
			return HeaderBlock{}, s.errorException
		}
		s.headersReady.Wait()
	}
	b := s.headersQueue[0]
	s.headersQueue = s.headersQueue[1:]
	return b, nil
}

func (s *Stream) ID() uint32 { return s.id }

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// open transitions IDLE -> OPEN, the first event on a stream.
func (s *Stream) open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.state = StateOpen
	}
}

// closeLocal records that the local side has sent END_STREAM.
func (s *Stream) closeLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateOpen:
		s.state = StateHalfClosedLocal
	case StateHalfClosedRemote:
		s.state = StateClosed
	}
}

// closeRemote records that END_STREAM was received from the peer.
func (s *Stream) closeRemote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateOpen:
		s.state = StateHalfClosedRemote
	case StateHalfClosedLocal:
		s.state = StateClosed
	}
	s.Source.push(nil, true)
}

// reset marks the stream CLOSED with errorCode set, per spec §4.5
// "RST_STREAM causes errorCode = reason and wakes any blocked
// reader/writer with StreamResetException".
func (s *Stream) reset(code ErrCode) {
	s.mu.Lock()
	s.state = StateClosed
	s.errorCode = code
	s.errorException = &StreamResetError{Code: code}
	s.windowReady.Broadcast()
	s.headersReady.Broadcast()
	s.mu.Unlock()
	s.Source.fail(&StreamResetError{Code: code})
}

// receiveData records inbound DATA bytes, returning window credit to
// the peer once unacknowledged bytes exceed half the initial window,
// per spec §4.5 "flow control".
func (s *Stream) receiveData(data []byte, endStream bool) {
	s.mu.Lock()
	s.readBytes += int64(len(data))
	s.unacked += int64(len(data))
	threshold := s.conn.localInitialWindow() / 2
	var toReturn int64
	if s.unacked > threshold {
		toReturn = s.unacked
		s.unacked = 0
	}
	s.mu.Unlock()

	s.Source.push(data, endStream)
	if endStream {
		s.closeRemote()
	}
	if toReturn > 0 {
		s.conn.sendWindowUpdate(s.id, uint32(toReturn))
	}
}

// failAll delivers a connection-level teardown error to every
// suspension point on the stream: buffered reads, blocked writes, and
// a pending TakeHeaders call.
func (s *Stream) failAll(err error) {
	s.mu.Lock()
	s.state = StateClosed
	if s.errorException == nil {
		s.errorException = err
	}
	s.windowReady.Broadcast()
	s.headersReady.Broadcast()
	s.mu.Unlock()
	s.Source.fail(err)
}

// addWindow applies a WINDOW_UPDATE increment (or a
// SETTINGS_INITIAL_WINDOW_SIZE delta) to the outbound window.
func (s *Stream) addWindow(delta int64) {
	s.mu.Lock()
	s.writeBytesMaximum += delta
	s.windowReady.Broadcast()
	s.mu.Unlock()
}

// writeData blocks until the outbound window admits at least one byte
// (or the whole chunk if smaller), splitting into MAX_FRAME_SIZE
// pieces, then hands frames to the connection writer.
func (s *Stream) writeData(data []byte, endStream bool) error {
	for len(data) > 0 {
		s.mu.Lock()
		for s.writeBytesMaximum <= 0 && s.errorException == nil {
			s.windowReady.Wait()
		}
		if s.errorException != nil {
			s.mu.Unlock()
			return s.errorException
		}
		n := int64(len(data))
		if n > s.writeBytesMaximum {
			n = s.writeBytesMaximum
		}
		if max := s.conn.peerMaxFrameSize(); n > int64(max) {
			n = int64(max)
		}
		s.writeBytesMaximum -= n
		s.mu.Unlock()

		chunk := data[:n]
		data = data[n:]
		last := len(data) == 0
		if err := s.conn.writeDataFrame(s.id, endStream && last, chunk); err != nil {
			return err
		}
		s.mu.Lock()
		s.writeBytesTotal += n
		s.mu.Unlock()
	}
	if endStream {
		s.closeLocal()
	}
	return nil
}

func (s *Stream) enqueueHeaders(b HeaderBlock) {
	s.mu.Lock()
	s.headersQueue = append(s.headersQueue, b)
	s.headersReady.Broadcast()
	s.mu.Unlock()
}
