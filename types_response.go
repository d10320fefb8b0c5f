/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"crypto/tls"
	"io"
	"time"

	"github.com/badu/httpcore/internal/hdr"
)

// Protocol identifies the negotiated wire protocol for one connection
// or response.
type Protocol string

const (
	ProtocolHTTP11 Protocol = "http/1.1"
	ProtocolH2     Protocol = "h2"
)

// ResponseBody is the streaming body source attached to a Response
// (spec §3): content-type, declared length (-1 if unknown), and the
// byte stream itself.
type ResponseBody struct {
	ContentType   string
	ContentLength int64
	reader        io.ReadCloser
}

func (b *ResponseBody) Read(p []byte) (int, error) { return b.reader.Read(p) }
func (b *ResponseBody) Close() error                { return b.reader.Close() }

// Response is the result of one exchange attempt (spec §3): it links
// back to the Request that produced it plus to the cache/network/
// prior responses in the chain that assembled the final answer the
// caller sees.
type Response struct {
	Request    *Request
	Protocol   Protocol
	StatusCode int
	Status     string
	Headers    hdr.Header
	Body       *ResponseBody
	Trailers   func() (hdr.Header, error)
	Handshake  *tls.ConnectionState

	CacheResponse   *Response // non-nil if a cache entry contributed
	NetworkResponse *Response // non-nil if network traffic happened
	PriorResponse   *Response // non-nil if this is a follow-up of a redirect/auth retry

	SentRequestAtMillis     int64
	ReceivedResponseAtMillis int64
}

// IsSuccessful reports 2xx, mirroring the common OkHttp-style helper.
func (r *Response) IsSuccessful() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// IsRedirect reports one of the redirect status codes the retry
// interceptor knows how to follow (spec §4.8).
func (r *Response) IsRedirect() bool {
	switch r.StatusCode {
	case 300, 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// nowMillis returns the current wall-clock time in epoch milliseconds, used
// to stamp SentRequestAtMillis/ReceivedResponseAtMillis.
func nowMillis() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }
