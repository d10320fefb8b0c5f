/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/badu/httpcore/internal/h2"
	"github.com/badu/httpcore/internal/hdr"
)

// h2Codec drives one HTTP/2 stream to satisfy exchangeCodec (spec
// §4.4 "Streams and Flow Control").
type h2Codec struct {
	conn          *realConnection
	pendingFields []h2.HeaderFieldLike
	stream        *h2.Stream
}

// buildH2Fields maps a Request onto the pseudo-header + regular-header
// field list HEADERS carries, lower-casing names since H2 forbids
// uppercase ASCII in header names (spec §4.4 HPACK).
func buildH2Fields(req *Request) []h2.HeaderFieldLike {
	fields := []h2.HeaderFieldLike{
		{Name: ":method", Value: req.Method},
		{Name: ":scheme", Value: req.URL.Scheme},
		{Name: ":authority", Value: req.URL.Host},
		{Name: ":path", Value: req.URL.RequestURI()},
	}
	for _, name := range req.Headers.Names() {
		if name == hdr.Host {
			continue
		}
		lower := strings.ToLower(name)
		for _, v := range req.Headers.Values(name) {
			fields = append(fields, h2.HeaderFieldLike{Name: lower, Value: v})
		}
	}
	return fields
}

func (h *h2Codec) WriteRequestHeaders(req *Request) error {
	h.pendingFields = buildH2Fields(req)
	return nil
}

func (h *h2Codec) WriteRequestBody(body RequestBody) (int64, error) {
	endStreamNow := body == nil
	st, err := h.conn.h2conn.OpenStream(h.pendingFields, endStreamNow)
	if err != nil {
		return 0, err
	}
	h.stream = st
	if body == nil {
		return 0, nil
	}
	buf := make([]byte, 16384)
	var written int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if err := st.Sink.WriteChunk(buf[:n], false); err != nil {
				return written, err
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			if err := st.Sink.WriteChunk(nil, true); err != nil {
				return written, err
			}
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (h *h2Codec) FinishRequest() error { return nil }

func (h *h2Codec) ReadResponseHeaders() (int, string, hdr.Header, error) {
	block, err := h.stream.TakeHeaders()
	if err != nil {
		return 0, "", hdr.Header{}, err
	}
	var statusCode int
	var headers hdr.Header
	for _, f := range block.Fields {
		if strings.HasPrefix(f.Name, ":") {
			if f.Name == ":status" {
				statusCode, _ = strconv.Atoi(f.Value)
			}
			continue
		}
		headers.Add(f.Name, f.Value)
	}
	if statusCode == 0 {
		return 0, "", hdr.Header{}, &ProtocolError{Err: fmt.Errorf("h2: missing :status pseudo-header")}
	}
	return statusCode, "", headers, nil
}

func (h *h2Codec) OpenResponseBody(headers hdr.Header, statusCode int) (io.ReadCloser, error) {
	return io.NopCloser(h.stream.Source), nil
}

// Trailers returns a trailing HEADERS block if the peer already queued
// one; HTTP/2 trailers never block the call since the data stream's
// own EOF is the authoritative end-of-body signal (spec §5 "trailers
// ... are observable only after the body source signals EOF").
func (h *h2Codec) Trailers() (hdr.Header, error) {
	block, ok := h.stream.PopHeadersNonBlocking()
	if !ok {
		return hdr.Header{}, nil
	}
	var headers hdr.Header
	for _, f := range block.Fields {
		if strings.HasPrefix(f.Name, ":") {
			continue
		}
		headers.Add(f.Name, f.Value)
	}
	return headers, nil
}

func (h *h2Codec) Cancel() {
	if h.stream != nil {
		h.conn.h2conn.ResetStream(h.stream.ID(), h2.ErrCodeCancel)
	}
}
