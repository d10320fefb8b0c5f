/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package h2 implements the HTTP/2 framing layer, stream state machine,
// flow control, and connection multiplexer described in spec §4.5/§6.
package h2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ClientPreface is sent by the client before any frame; the server
// verifies it before emitting its own SETTINGS.
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// FrameType identifies the kind of a frame's payload.
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameRSTStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return fmt.Sprintf("UNKNOWN_FRAME_%#x", uint8(t))
	}
}

// Flags is a bitmask whose meaning depends on the frame type it is
// attached to.
type Flags uint8

const (
	FlagEndStream  Flags = 0x1 // DATA, HEADERS
	FlagEndHeaders Flags = 0x4 // HEADERS, PUSH_PROMISE, CONTINUATION
	FlagPadded     Flags = 0x8 // DATA, HEADERS, PUSH_PROMISE
	FlagPriority   Flags = 0x20 // HEADERS
	FlagACK        Flags = 0x1 // SETTINGS, PING
)

func (f Flags) Has(v Flags) bool { return f&v != 0 }

// SettingID identifies one SETTINGS parameter (spec §6).
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

// ErrCode is an HTTP/2 error code, carried in RST_STREAM and GOAWAY
// frames (spec §6).
type ErrCode uint32

const (
	ErrCodeNone               ErrCode = 0x0
	ErrCodeProtocol           ErrCode = 0x1
	ErrCodeInternal           ErrCode = 0x2
	ErrCodeFlowControl        ErrCode = 0x3
	ErrCodeSettingsTimeout    ErrCode = 0x4
	ErrCodeStreamClosed       ErrCode = 0x5
	ErrCodeFrameSize          ErrCode = 0x6
	ErrCodeRefusedStream      ErrCode = 0x7
	ErrCodeCancel             ErrCode = 0x8
	ErrCodeCompression        ErrCode = 0x9
	ErrCodeConnect            ErrCode = 0xa
	ErrCodeEnhanceYourCalm    ErrCode = 0xb
	ErrCodeInadequateSecurity ErrCode = 0xc
	ErrCodeHTTP11Required     ErrCode = 0xd
)

func (e ErrCode) Error() string { return fmt.Sprintf("h2: error code %#x", uint32(e)) }

const (
	frameHeaderLen    = 9
	defaultMaxFrameSize = 16384
	maxFrameSize        = 1<<24 - 1
)

var (
	ErrFrameTooLarge = errors.New("h2: frame larger than SETTINGS_MAX_FRAME_SIZE")
	ErrBadPadding    = errors.New("h2: pad length exceeds frame payload")
)

// FrameHeader is the 9-byte header prefixing every frame: a 24-bit
// length, 8-bit type, 8-bit flags, and a 32-bit stream id whose high
// bit is reserved and always read as zero.
type FrameHeader struct {
	Length   uint32
	Type     FrameType
	Flags    Flags
	StreamID uint32
}

func (h FrameHeader) encode(dst []byte) {
	dst[0] = byte(h.Length >> 16)
	dst[1] = byte(h.Length >> 8)
	dst[2] = byte(h.Length)
	dst[3] = byte(h.Type)
	dst[4] = byte(h.Flags)
	binary.BigEndian.PutUint32(dst[5:9], h.StreamID&0x7fffffff)
}

func decodeFrameHeader(b []byte) FrameHeader {
	_ = b[8]
	return FrameHeader{
		Length:   uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]),
		Type:     FrameType(b[3]),
		Flags:    Flags(b[4]),
		StreamID: binary.BigEndian.Uint32(b[5:9]) & 0x7fffffff,
	}
}

// Frame is a parsed frame: the header plus a type-specific payload.
type Frame struct {
	Header  FrameHeader
	Payload interface{} // one of the *Payload types below, or nil for RST_STREAM-less bodies
}

type DataPayload struct {
	Data      []byte
	PadLength uint8
}

type HeadersPayload struct {
	HeaderBlockFragment []byte
	Priority            *PriorityParam
	PadLength           uint8
}

type PriorityParam struct {
	StreamDep uint32
	Exclusive bool
	Weight    uint8 // encoded weight plus one is the real weight, per RFC 7540 §5.3.2
}

type PriorityPayload struct {
	PriorityParam
}

type RSTStreamPayload struct {
	ErrCode ErrCode
}

type Setting struct {
	ID    SettingID
	Value uint32
}

type SettingsPayload struct {
	Settings []Setting
}

type PushPromisePayload struct {
	PromisedStreamID    uint32
	HeaderBlockFragment []byte
	PadLength           uint8
}

type PingPayload struct {
	Data [8]byte
}

type GoAwayPayload struct {
	LastStreamID uint32
	ErrCode      ErrCode
	DebugData    []byte
}

type WindowUpdatePayload struct {
	Increment uint32
}

type ContinuationPayload struct {
	HeaderBlockFragment []byte
}

// Framer reads and writes HTTP/2 frames on a single connection. Per
// spec §4.5 the connection-level writer must be single-threaded; the
// Framer itself does not lock — callers serialize the Write*Frame
// calls (the h2 Conn holds its writeMu around each write).
type Framer struct {
	r             io.Reader
	w             io.Writer
	maxReadFrameSize uint32
	headBuf       [frameHeaderLen]byte
}

// NewFramer returns a Framer bound to r for reads and w for writes.
func NewFramer(r io.Reader, w io.Writer) *Framer {
	return &Framer{r: r, w: w, maxReadFrameSize: defaultMaxFrameSize}
}

// SetMaxReadFrameSize applies a locally-advertised SETTINGS_MAX_FRAME_SIZE.
func (fr *Framer) SetMaxReadFrameSize(v uint32) {
	if v < defaultMaxFrameSize {
		v = defaultMaxFrameSize
	}
	if v > maxFrameSize {
		v = maxFrameSize
	}
	fr.maxReadFrameSize = v
}

// ReadFrame reads and parses the next frame.
func (fr *Framer) ReadFrame() (Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.headBuf[:]); err != nil {
		return Frame{}, err
	}
	h := decodeFrameHeader(fr.headBuf[:])
	if h.Length > fr.maxReadFrameSize {
		return Frame{}, ErrFrameTooLarge
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return Frame{}, err
	}
	p, err := parsePayload(h, payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Header: h, Payload: p}, nil
}

func splitPadded(flags Flags, payload []byte) (data []byte, padLen uint8, err error) {
	if !flags.Has(FlagPadded) {
		return payload, 0, nil
	}
	if len(payload) == 0 {
		return nil, 0, ErrBadPadding
	}
	padLen = payload[0]
	payload = payload[1:]
	if int(padLen) > len(payload) {
		return nil, 0, ErrBadPadding
	}
	return payload[:len(payload)-int(padLen)], padLen, nil
}

func parsePayload(h FrameHeader, payload []byte) (interface{}, error) {
	switch h.Type {
	case FrameData:
		data, pad, err := splitPadded(h.Flags, payload)
		if err != nil {
			return nil, err
		}
		return DataPayload{Data: data, PadLength: pad}, nil

	case FrameHeaders:
		body, pad, err := splitPadded(h.Flags, payload)
		if err != nil {
			return nil, err
		}
		var pri *PriorityParam
		if h.Flags.Has(FlagPriority) {
			if len(body) < 5 {
				return nil, ErrBadPadding
			}
			dep := binary.BigEndian.Uint32(body[:4])
			pri = &PriorityParam{
				StreamDep: dep &^ (1 << 31),
				Exclusive: dep&(1<<31) != 0,
				Weight:    body[4],
			}
			body = body[5:]
		}
		return HeadersPayload{HeaderBlockFragment: body, Priority: pri, PadLength: pad}, nil

	case FramePriority:
		if len(payload) != 5 {
			return nil, ErrBadPadding
		}
		dep := binary.BigEndian.Uint32(payload[:4])
		return PriorityPayload{PriorityParam{
			StreamDep: dep &^ (1 << 31),
			Exclusive: dep&(1<<31) != 0,
			Weight:    payload[4],
		}}, nil

	case FrameRSTStream:
		if len(payload) != 4 {
			return nil, ErrBadPadding
		}
		return RSTStreamPayload{ErrCode: ErrCode(binary.BigEndian.Uint32(payload))}, nil

	case FrameSettings:
		if len(payload)%6 != 0 {
			return nil, ErrBadPadding
		}
		var s SettingsPayload
		for i := 0; i+6 <= len(payload); i += 6 {
			s.Settings = append(s.Settings, Setting{
				ID:    SettingID(binary.BigEndian.Uint16(payload[i : i+2])),
				Value: binary.BigEndian.Uint32(payload[i+2 : i+6]),
			})
		}
		return s, nil

	case FramePushPromise:
		body, pad, err := splitPadded(h.Flags, payload)
		if err != nil {
			return nil, err
		}
		if len(body) < 4 {
			return nil, ErrBadPadding
		}
		return PushPromisePayload{
			PromisedStreamID:    binary.BigEndian.Uint32(body[:4]) &^ (1 << 31),
			HeaderBlockFragment: body[4:],
			PadLength:           pad,
		}, nil

	case FramePing:
		var p PingPayload
		copy(p.Data[:], payload)
		return p, nil

	case FrameGoAway:
		if len(payload) < 8 {
			return nil, ErrBadPadding
		}
		return GoAwayPayload{
			LastStreamID: binary.BigEndian.Uint32(payload[:4]) &^ (1 << 31),
			ErrCode:      ErrCode(binary.BigEndian.Uint32(payload[4:8])),
			DebugData:    payload[8:],
		}, nil

	case FrameWindowUpdate:
		if len(payload) != 4 {
			return nil, ErrBadPadding
		}
		return WindowUpdatePayload{Increment: binary.BigEndian.Uint32(payload) &^ (1 << 31)}, nil

	case FrameContinuation:
		return ContinuationPayload{HeaderBlockFragment: payload}, nil

	default:
		// Unknown frame types are ignored per RFC 7540 §4.1; the caller
		// still sees the raw header and payload.
		return payload, nil
	}
}

// WriteDataFrame writes a DATA frame, splitting is the caller's
// responsibility (flow control lives at the Conn/Stream layer).
func (fr *Framer) WriteDataFrame(streamID uint32, endStream bool, data []byte) error {
	var flags Flags
	if endStream {
		flags |= FlagEndStream
	}
	return fr.writeFrame(FrameHeader{Length: uint32(len(data)), Type: FrameData, Flags: flags, StreamID: streamID}, data)
}

// WriteHeadersFrame writes a HEADERS frame carrying an already
// HPACK-encoded block fragment. Splitting across CONTINUATION frames
// when the fragment exceeds the peer's MAX_FRAME_SIZE is the Conn's
// responsibility, since it must hold the writer lock across the whole
// block (spec §4.5).
func (fr *Framer) WriteHeadersFrame(streamID uint32, endStream, endHeaders bool, block []byte) error {
	var flags Flags
	if endStream {
		flags |= FlagEndStream
	}
	if endHeaders {
		flags |= FlagEndHeaders
	}
	return fr.writeFrame(FrameHeader{Length: uint32(len(block)), Type: FrameHeaders, Flags: flags, StreamID: streamID}, block)
}

func (fr *Framer) WriteContinuationFrame(streamID uint32, endHeaders bool, block []byte) error {
	var flags Flags
	if endHeaders {
		flags |= FlagEndHeaders
	}
	return fr.writeFrame(FrameHeader{Length: uint32(len(block)), Type: FrameContinuation, Flags: flags, StreamID: streamID}, block)
}

func (fr *Framer) WriteRSTStreamFrame(streamID uint32, code ErrCode) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(code))
	return fr.writeFrame(FrameHeader{Length: 4, Type: FrameRSTStream, StreamID: streamID}, buf[:])
}

func (fr *Framer) WriteSettingsFrame(settings []Setting) error {
	buf := make([]byte, 6*len(settings))
	for i, s := range settings {
		binary.BigEndian.PutUint16(buf[i*6:], uint16(s.ID))
		binary.BigEndian.PutUint32(buf[i*6+2:], s.Value)
	}
	return fr.writeFrame(FrameHeader{Length: uint32(len(buf)), Type: FrameSettings}, buf)
}

func (fr *Framer) WriteSettingsAckFrame() error {
	return fr.writeFrame(FrameHeader{Type: FrameSettings, Flags: FlagACK}, nil)
}

func (fr *Framer) WritePingFrame(ack bool, data [8]byte) error {
	var flags Flags
	if ack {
		flags |= FlagACK
	}
	return fr.writeFrame(FrameHeader{Length: 8, Type: FramePing, Flags: flags}, data[:])
}

func (fr *Framer) WriteGoAwayFrame(lastStreamID uint32, code ErrCode, debug []byte) error {
	buf := make([]byte, 8+len(debug))
	binary.BigEndian.PutUint32(buf[:4], lastStreamID)
	binary.BigEndian.PutUint32(buf[4:8], uint32(code))
	copy(buf[8:], debug)
	return fr.writeFrame(FrameHeader{Length: uint32(len(buf)), Type: FrameGoAway}, buf)
}

func (fr *Framer) WriteWindowUpdateFrame(streamID uint32, increment uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], increment&0x7fffffff)
	return fr.writeFrame(FrameHeader{Length: 4, Type: FrameWindowUpdate, StreamID: streamID}, buf[:])
}

func (fr *Framer) writeFrame(h FrameHeader, payload []byte) error {
	h.Length = uint32(len(payload))
	var head [frameHeaderLen]byte
	h.encode(head[:])
	if _, err := fr.w.Write(head[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := fr.w.Write(payload)
	return err
}
