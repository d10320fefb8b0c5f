/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/badu/httpcore/internal/h1"
	"github.com/badu/httpcore/internal/h2"
	"github.com/badu/httpcore/internal/hdr"
	"github.com/badu/httpcore/internal/route"
)

// exchangeCodec abstracts the H1/H2 wire codecs behind the shape the
// call-server interceptor drives (spec §9 "Polymorphism: ExchangeCodec
// ∈ {H1, H2}... no deep inheritance required").
type exchangeCodec interface {
	WriteRequestHeaders(req *Request) error
	WriteRequestBody(body RequestBody) (int64, error)
	FinishRequest() error
	ReadResponseHeaders() (statusCode int, status string, headers hdr.Header, err error)
	OpenResponseBody(headers hdr.Header, statusCode int) (io.ReadCloser, error)
	Trailers() (hdr.Header, error)
	Cancel()
}

// exchange is one call's acquired connection plus the codec bound to
// it, handed from the connect interceptor to call-server.
type exchange struct {
	conn  *realConnection
	codec exchangeCodec
}

// realConnection owns one transport socket (plus, for H2, one framer)
// and the per-connection lifetime bookkeeping spec §3 "Connection"
// describes: calls in progress, allocationLimit, the sticky
// noNewExchanges flag, coalescing eligibility, and idle timestamp.
type realConnection struct {
	Route route.Route
	addr  *route.Address

	nc        net.Conn
	protocol  Protocol
	h1codec   *h1.Codec
	h2conn    *h2.Conn
	handshake *tls.ConnectionState

	mu                 sync.Mutex
	calls              int
	noNewExchanges     bool
	noCoalescedConns   bool
	routeFailureCount  int
	successCount       int
	idleAt             time.Time
}

// Address satisfies pool.Conn.
func (c *realConnection) Address() *route.Address { return c.addr }

// NoNewExchanges satisfies pool.Conn; it is monotonic per spec §3.
func (c *realConnection) NoNewExchanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noNewExchanges
}

func (c *realConnection) markNoNewExchanges() {
	c.mu.Lock()
	c.noNewExchanges = true
	c.mu.Unlock()
}

// AllocationLimit satisfies pool.Conn: 1 for H1 (exactly one exchange
// at a time, spec §4.3), or the constant h2DefaultConcurrentStreams for
// H2; the peer's MAX_CONCURRENT_STREAMS setting is not consulted.
func (c *realConnection) AllocationLimit() int {
	if c.protocol == ProtocolH2 {
		return h2DefaultConcurrentStreams
	}
	return 1
}

// h2DefaultConcurrentStreams is the pool-visible stream ceiling of every
// H2 connection. The h2 package does not read the peer's
// SETTINGS_MAX_CONCURRENT_STREAMS or apply it to stream admission, so
// this constant is the only limit.
const h2DefaultConcurrentStreams = 100

func (c *realConnection) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *realConnection) acquireCall() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *realConnection) releaseCall() {
	c.mu.Lock()
	c.calls--
	if c.calls == 0 {
		c.idleAt = time.Now()
	}
	c.mu.Unlock()
}

func (c *realConnection) IdleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idleAt
}

func (c *realConnection) Close() error {
	c.markNoNewExchanges()
	if c.h2conn != nil {
		return c.h2conn.Close()
	}
	return c.nc.Close()
}

// newExchange opens one request/response exchange on conn: a fresh H2
// stream, or (for H1, which serves one exchange at a time) the
// connection's single codec.
func newExchange(conn *realConnection) *exchange {
	if conn.protocol == ProtocolH2 {
		return &exchange{conn: conn, codec: &h2Codec{conn: conn}}
	}
	return &exchange{conn: conn, codec: &h1CodecAdapter{codec: conn.h1codec}}
}
