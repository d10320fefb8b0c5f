/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"context"
	"fmt"
	"net/url"

	"github.com/badu/httpcore/internal/hdr"
	"github.com/badu/httpcore/internal/route"
	"github.com/badu/httpcore/internal/ws"
)

// WebSocketListener is an alias for the session-level callbacks
// (spec §4.10); defined locally so callers never need to import
// internal/ws directly.
type WebSocketListener = ws.Listener

// NewWebSocket performs the RFC 6455 upgrade handshake against
// rawURL (ws:// or wss://) over a connection dialed exactly like an
// ordinary Call's connect stage, then returns a live Session (spec
// §4.10: "the handshake is an ordinary HTTP/1.1 GET... that, on 101,
// hands the raw socket to the framer").
func (c *Client) NewWebSocket(ctx context.Context, rawURL string, requestHeaders hdr.Header, listener WebSocketListener) (*ws.Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("httpcore: unsupported WebSocket scheme %q", u.Scheme)
	}

	addr, err := c.addressFor(&Request{URL: u})
	if err != nil {
		return nil, err
	}
	// WebSocket owns the socket for the session's lifetime: H2
	// multiplexing and the connection pool's idle/reuse bookkeeping
	// don't apply, so the upgrade dials directly on a single resolved
	// route rather than going through Planner/Finder/Pool.
	addr.Protocols = []string{string(ProtocolHTTP11)}
	addr.FastFallback = false

	r, err := route.NewRouteSelector(addr).Next(ctx)
	if err != nil {
		return nil, err
	}
	connI, err := c.dial(ctx, r)
	if err != nil {
		return nil, err
	}
	conn := connI.(*realConnection)
	c.pool.Evict(conn) // this socket is not a pooled HTTP connection

	clientKey, err := ws.NewClientKey()
	if err != nil {
		conn.Close()
		return nil, err
	}
	headers := requestHeaders.Clone()
	upgrade := ws.BuildUpgradeHeaders(clientKey, true)
	upgrade.Range(func(name, value string) { headers.Set(name, value) })
	headers.Set(hdr.Host, u.Host)

	if err := conn.h1codec.WriteRequestHeaders("GET", u.RequestURI(), u.Host, headers); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.h1codec.FinishRequestBody(); err != nil {
		conn.Close()
		return nil, err
	}
	statusLine, respHeaders, err := conn.h1codec.ReadResponseHeaders()
	if err != nil {
		conn.Close()
		return nil, err
	}
	deflate, err := ws.ValidateUpgradeResponse(statusLine.StatusCode, clientKey, respHeaders)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ws.NewSession(conn.nc, false, deflate, listener), nil
}
