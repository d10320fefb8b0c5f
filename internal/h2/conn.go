/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package h2

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/badu/httpcore/internal/h2/hpack"
	"github.com/badu/httpcore/internal/task"
)

const (
	defaultInitialWindow    = 65535
	connectionStreamID      = 0
	defaultPingInterval     = 30 * time.Second
	defaultPingTimeout      = 10 * time.Second
)

var (
	ErrGoAway       = errors.New("h2: connection received GOAWAY, no new exchanges")
	ErrPingTimeout  = errors.New("h2: ping timed out, connection considered dead")
	ErrConnClosed   = errors.New("h2: connection closed")
)

// Conn is one HTTP/2 connection multiplexing many Streams. Per spec
// §4.5 the writer is a single-producer sink protected by a lock: only
// one goroutine writes frames at a time, serialized through writeMu so
// that a HEADERS block and its CONTINUATION frames are never
// interleaved with frames from another stream.
type Conn struct {
	nc     net.Conn
	framer *Framer
	client bool // true if we are the connection's client (odd stream ids)

	writeMu sync.Mutex

	mu                sync.Mutex
	streams           map[uint32]*Stream
	nextStreamID      uint32
	lastPeerStreamID  uint32
	peerInitialWindow int64
	ourInitialWindow  int64
	peerMaxFrame      uint32
	connWriteWindow   int64
	connReadUnacked   int64
	noNewExchanges    bool
	goAwayErr         error
	closed            bool

	enc *hpack.Encoder
	dec *hpack.Decoder

	pingInterval time.Duration
	pingTimeout  time.Duration
	pendingPing  chan struct{}

	runner   *task.Runner
	pingTask *task.Task

	NewStream func(*Stream) // invoked for server-initiated streams (push); nil for clients that disable push
}

// NewClientConn wraps nc (already past ALPN negotiation and the TLS
// handshake, both external collaborators per spec §1) as an HTTP/2
// client connection and sends the connection preface and initial
// SETTINGS. runner schedules the connection's ping loop (spec §5
// "HTTP/2 pings ... run on the task scheduler"); nil falls back to a
// private runner, for callers (tests) that don't have one handy.
func NewClientConn(nc net.Conn, runner *task.Runner) (*Conn, error) {
	if runner == nil {
		runner = task.NewRunner(nil, 1)
	}
	c := &Conn{
		nc:                nc,
		framer:            NewFramer(nc, nc),
		client:            true,
		streams:           make(map[uint32]*Stream),
		nextStreamID:      1,
		peerInitialWindow: defaultInitialWindow,
		ourInitialWindow:  defaultInitialWindow,
		peerMaxFrame:      defaultMaxFrameSize,
		connWriteWindow:   defaultInitialWindow,
		enc:               hpack.NewEncoder(4096),
		dec:               hpack.NewDecoder(4096, nil),
		pingInterval:      defaultPingInterval,
		pingTimeout:        defaultPingTimeout,
		runner:            runner,
	}
	if _, err := nc.Write([]byte(ClientPreface)); err != nil {
		return nil, err
	}
	if err := c.framer.WriteSettingsFrame([]Setting{
		{ID: SettingEnablePush, Value: 0},
		{ID: SettingInitialWindowSize, Value: defaultInitialWindow},
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// Serve runs the connection's read loop until it fails or Close is
// called. Callers typically run it in its own goroutine and read
// results off individual Streams.
func (c *Conn) Serve() error {
	c.startPingLoop()
	for {
		f, err := c.framer.ReadFrame()
		if err != nil {
			c.teardown(err)
			return err
		}
		if err := c.handleFrame(f); err != nil {
			c.teardown(err)
			return err
		}
	}
}

func (c *Conn) handleFrame(f Frame) error {
	switch p := f.Payload.(type) {
	case DataPayload:
		return c.handleData(f.Header.StreamID, p, f.Header.Flags.Has(FlagEndStream))
	case HeadersPayload:
		return c.handleHeaders(f.Header.StreamID, p, f.Header.Flags)
	case ContinuationPayload:
		return c.handleContinuation(f.Header.StreamID, p, f.Header.Flags.Has(FlagEndHeaders))
	case RSTStreamPayload:
		if st := c.stream(f.Header.StreamID); st != nil {
			st.reset(p.ErrCode)
		}
		return nil
	case SettingsPayload:
		return c.handleSettings(p, f.Header.Flags.Has(FlagACK))
	case PingPayload:
		return c.handlePing(p, f.Header.Flags.Has(FlagACK))
	case GoAwayPayload:
		c.handleGoAway(p)
		return nil
	case WindowUpdatePayload:
		return c.handleWindowUpdate(f.Header.StreamID, p.Increment)
	case PriorityPayload, PushPromisePayload:
		return nil // priority hints and server push are accepted but not acted on
	default:
		return nil
	}
}

func (c *Conn) handleData(streamID uint32, p DataPayload, endStream bool) error {
	st := c.stream(streamID)
	if st == nil {
		return nil // stream already closed locally; ignore trailing frames
	}
	c.mu.Lock()
	c.connReadUnacked += int64(len(p.Data))
	toReturn := int64(0)
	if c.connReadUnacked > c.ourInitialWindow/2 {
		toReturn = c.connReadUnacked
		c.connReadUnacked = 0
	}
	c.mu.Unlock()
	st.receiveData(p.Data, endStream)
	if toReturn > 0 {
		return c.sendWindowUpdate(connectionStreamID, uint32(toReturn))
	}
	return nil
}

func (c *Conn) handleHeaders(streamID uint32, p HeadersPayload, flags Flags) error {
	st := c.stream(streamID)
	if st == nil {
		st = c.acceptStream(streamID)
	}
	st.pendingHeaderBlock = append(st.pendingHeaderBlock, p.HeaderBlockFragment...)
	st.pendingEndStream = flags.Has(FlagEndStream)
	if flags.Has(FlagEndHeaders) {
		return c.finishHeaderBlock(st, st.pendingEndStream)
	}
	return nil
}

func (c *Conn) handleContinuation(streamID uint32, p ContinuationPayload, endHeaders bool) error {
	st := c.stream(streamID)
	if st == nil {
		return nil
	}
	st.pendingHeaderBlock = append(st.pendingHeaderBlock, p.HeaderBlockFragment...)
	if endHeaders {
		return c.finishHeaderBlock(st, st.pendingEndStream)
	}
	return nil
}

func (c *Conn) finishHeaderBlock(st *Stream, endStream bool) error {
	block := st.pendingHeaderBlock
	st.pendingHeaderBlock = nil

	var fields []HeaderFieldLike
	// The connection owns a single decoder instance so its dynamic
	// table stays in lockstep with the peer's encoder (spec §8's
	// round-trip invariant); only the emit callback is swapped in per
	// block, safe because frames are processed one at a time on the
	// single read-loop goroutine.
	c.dec.SetEmit(func(f hpack.HeaderField) {
		fields = append(fields, HeaderFieldLike{Name: f.Name, Value: f.Value})
	})
	if err := c.dec.Write(block); err != nil {
		return err
	}
	st.open()
	st.enqueueHeaders(HeaderBlock{Fields: fields, EndStream: endStream})
	if endStream {
		st.closeRemote()
	}
	return nil
}

func (c *Conn) handleSettings(p SettingsPayload, ack bool) error {
	if ack {
		return nil
	}
	c.mu.Lock()
	for _, s := range p.Settings {
		switch s.ID {
		case SettingInitialWindowSize:
			delta := int64(s.Value) - c.peerInitialWindow
			c.peerInitialWindow = int64(s.Value)
			for _, st := range c.streams {
				st.addWindow(delta)
			}
		case SettingMaxFrameSize:
			c.peerMaxFrame = s.Value
		case SettingHeaderTableSize:
			c.enc.SetMaxDynamicTableSize(s.Value)
		}
	}
	c.mu.Unlock()
	c.writeMu.Lock()
	err := c.framer.WriteSettingsAckFrame()
	c.writeMu.Unlock()
	return err
}

func (c *Conn) handlePing(p PingPayload, ack bool) error {
	if ack {
		c.mu.Lock()
		if c.pendingPing != nil {
			close(c.pendingPing)
			c.pendingPing = nil
		}
		c.mu.Unlock()
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WritePingFrame(true, p.Data)
}

func (c *Conn) handleGoAway(p GoAwayPayload) {
	c.mu.Lock()
	c.noNewExchanges = true
	c.goAwayErr = ErrGoAway
	last := p.LastStreamID
	var toFail []*Stream
	for id, st := range c.streams {
		if id > last {
			toFail = append(toFail, st)
		}
	}
	c.mu.Unlock()
	for _, st := range toFail {
		st.reset(ErrCodeRefusedStream)
	}
}

func (c *Conn) handleWindowUpdate(streamID uint32, increment uint32) error {
	if streamID == connectionStreamID {
		c.mu.Lock()
		c.connWriteWindow += int64(increment)
		c.mu.Unlock()
		return nil
	}
	if st := c.stream(streamID); st != nil {
		st.addWindow(int64(increment))
	}
	return nil
}

// OpenStream allocates a new client-initiated stream (next odd id)
// and sends its HEADERS block.
func (c *Conn) OpenStream(fields []HeaderFieldLike, endStream bool) (*Stream, error) {
	c.mu.Lock()
	if c.noNewExchanges {
		c.mu.Unlock()
		return nil, ErrGoAway
	}
	id := c.nextStreamID
	c.nextStreamID += 2
	st := newStream(id, c, c.peerInitialWindow)
	c.streams[id] = st
	c.mu.Unlock()
	st.open()

	var block []byte
	for _, f := range fields {
		block = c.enc.WriteField(block, hpack.HeaderField{Name: f.Name, Value: f.Value})
	}
	if err := c.writeHeaderBlock(id, block, endStream); err != nil {
		return nil, err
	}
	if endStream {
		st.closeLocal()
	}
	return st, nil
}

// writeHeaderBlock emits HEADERS plus as many CONTINUATION frames as
// needed, holding writeMu across the whole block so no other stream's
// frames interleave (spec §4.5).
func (c *Conn) writeHeaderBlock(streamID uint32, block []byte, endStream bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	max := int(c.peerMaxFrame)
	first := block
	endHeaders := true
	if len(first) > max {
		first = block[:max]
		endHeaders = false
	}
	if err := c.framer.WriteHeadersFrame(streamID, endStream, endHeaders, first); err != nil {
		return err
	}
	rest := block[len(first):]
	for len(rest) > 0 {
		chunk := rest
		last := true
		if len(chunk) > max {
			chunk = rest[:max]
			last = false
		}
		if err := c.framer.WriteContinuationFrame(streamID, last, chunk); err != nil {
			return err
		}
		rest = rest[len(chunk):]
	}
	return nil
}

func (c *Conn) writeDataFrame(streamID uint32, endStream bool, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteDataFrame(streamID, endStream, data)
}

func (c *Conn) sendWindowUpdate(streamID uint32, increment uint32) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteWindowUpdateFrame(streamID, increment)
}

// ResetStream sends RST_STREAM for id with code, tearing down the
// local stream state immediately rather than waiting for the peer's
// acknowledgement (spec §4.8 "cancel() ... calls cancel on all
// in-flight connect plans"; a call's own stream is reset the same way).
func (c *Conn) ResetStream(id uint32, code ErrCode) error {
	if st := c.stream(id); st != nil {
		st.reset(code)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteRSTStreamFrame(id, code)
}

func (c *Conn) stream(id uint32) *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[id]
}

func (c *Conn) acceptStream(id uint32) *Stream {
	c.mu.Lock()
	st, ok := c.streams[id]
	if !ok {
		st = newStream(id, c, c.peerInitialWindow)
		c.streams[id] = st
	}
	c.mu.Unlock()
	return st
}

func (c *Conn) localInitialWindow() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ourInitialWindow
}

func (c *Conn) peerMaxFrameSize() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerMaxFrame
}

// startPingLoop schedules the recurring PING task on the connection's
// runner: it fires every pingInterval and fails the connection if the
// pong does not arrive within pingTimeout, per spec §4.5 GOAWAY
// section: "Pings every pingIntervalMillis; a missed pong fails the
// connection." (spec §5 "HTTP/2 pings ... run on the task scheduler").
func (c *Conn) startPingLoop() {
	queue := c.runner.NewQueue("h2-ping")
	c.pingTask = queue.Repeat("ping", c.pingInterval, true, func() time.Duration {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return -1
		}
		waitCh := make(chan struct{})
		c.pendingPing = waitCh
		c.mu.Unlock()

		c.writeMu.Lock()
		err := c.framer.WritePingFrame(false, [8]byte{})
		c.writeMu.Unlock()
		if err != nil {
			c.teardown(err)
			return -1
		}

		select {
		case <-waitCh:
			return c.pingInterval
		case <-time.After(c.pingTimeout):
			c.teardown(ErrPingTimeout)
			return -1
		}
	})
}

func (c *Conn) teardown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	streams := make([]*Stream, 0, len(c.streams))
	for _, st := range c.streams {
		streams = append(streams, st)
	}
	pingTask := c.pingTask
	c.mu.Unlock()
	if pingTask != nil {
		pingTask.Cancel()
	}
	for _, st := range streams {
		st.failAll(err)
	}
	c.nc.Close()
}

func (c *Conn) Close() error {
	c.teardown(ErrConnClosed)
	return nil
}

var _ io.Closer = (*Conn)(nil)
