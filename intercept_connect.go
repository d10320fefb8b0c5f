/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"github.com/badu/httpcore/internal/route"
)

// connectIntercept acquires a connection for req's origin — reusing a
// pooled one or racing fresh connects via the Finder — and hands the
// resulting exchange to the next interceptor (call-server), per spec
// §4.7 "ExchangeFinder ... returns the first successfully connected
// route's connection."
func (c *Client) connectIntercept(chain *Chain) (*Response, error) {
	req := chain.Request()
	addr, err := c.addressFor(req)
	if err != nil {
		return nil, err
	}
	key := addressKey(addr)

	call := chain.Call()
	planner := call.plannerFor(key, addr)
	finder := route.NewFinder(planner, c.dial)

	connI, err := finder.Find(req.context(), addr)
	if err != nil {
		return nil, err
	}
	conn := connI.(*realConnection)
	conn.acquireCall()

	ex := newExchange(conn)
	call.setCurrentCodec(ex.codec)

	resp, err := chain.ProceedWithExchange(req, ex)
	if err != nil {
		conn.releaseCall()
		c.finishConnection(conn, err)
		return nil, err
	}
	return resp, nil
}

// finishConnection decides whether a connection that just finished an
// exchange should be evicted (protocol/TLS errors, or a carrier that
// marked itself unreusable) or simply released back to the idle pool.
// call-server invokes this too, once the response body is consumed.
func (c *Client) finishConnection(conn *realConnection, err error) {
	if conn.NoNewExchanges() || err != nil {
		c.pool.Evict(conn)
		conn.Close()
		return
	}
	c.pool.Release(conn)
}
