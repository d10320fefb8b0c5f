/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"context"
	"net"
	"strconv"

	"golang.org/x/net/proxy"

	"github.com/badu/httpcore/internal/route"
)

// dialSOCKS connects to r's origin through its SOCKS proxy, carried
// from the teacher's transport.go proxy dependency (SPEC_FULL.md
// DOMAIN STACK). golang.org/x/net/proxy has no context-aware Dial, so
// the handshake runs on a background goroutine the ctx can abandon.
func dialSOCKS(ctx context.Context, r route.Route) (net.Conn, error) {
	dialer, err := proxy.SOCKS5("tcp", r.Proxy.Address, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}
	target := net.JoinHostPort(r.Address.Host, strconv.Itoa(r.Address.Port))

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := dialer.Dial("tcp", target)
		done <- result{conn, err}
	}()

	select {
	case res := <-done:
		return res.conn, res.err
	case <-ctx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
