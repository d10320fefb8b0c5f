/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/badu/httpcore/internal/h2"
	"github.com/badu/httpcore/internal/h1"
	"github.com/badu/httpcore/internal/pool"
	"github.com/badu/httpcore/internal/route"
	"github.com/badu/httpcore/internal/task"
)

// Client is the embeddable engine: it owns the connection pool, the
// task scheduler backing all background work, and the fixed
// interceptor chain every Call runs through (spec §1, §5). One Client
// instance is safe for concurrent calls.
type Client struct {
	config *Config
	pool   *pool.Pool
	tasks  *task.Runner

	interceptors       []Interceptor
	userInterceptors   []Interceptor
	networkInterceptors []Interceptor

	dispatcher *dispatcher
}

// NewClient builds a Client from defaults overridden by opts.
func NewClient(opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	tasks := task.NewRunner(nil, 64)
	c := &Client{
		config: cfg,
		pool:   pool.NewPool(cfg.MaxIdleConnections, cfg.KeepAliveDuration, tasks),
		tasks:  tasks,
	}
	c.dispatcher = newDispatcher(cfg.MaxRequests, cfg.MaxRequestsPerHost)
	c.interceptors = []Interceptor{
		InterceptorFunc(c.retryFollowUpIntercept),
		InterceptorFunc(c.bridgeIntercept),
		InterceptorFunc(c.cacheIntercept),
		InterceptorFunc(c.connectIntercept),
		InterceptorFunc(c.callServerIntercept),
	}
	return c
}

// AddInterceptor appends a user (application-visible) interceptor,
// which observes the request/response before retry/follow-up and
// cache ever run (spec §4.8 step 1).
func (c *Client) AddInterceptor(i Interceptor) { c.userInterceptors = append(c.userInterceptors, i) }

// AddNetworkInterceptor appends a network interceptor, which only sees
// traffic that actually reaches the wire (spec §4.8 step 5, between
// cache and connect).
func (c *Client) AddNetworkInterceptor(i Interceptor) {
	c.networkInterceptors = append(c.networkInterceptors, i)
}

// fullChain assembles user interceptors + the fixed pipeline +
// network interceptors in their correct slots (spec §4.8).
func (c *Client) fullChain() []Interceptor {
	chain := make([]Interceptor, 0, len(c.userInterceptors)+len(c.interceptors)+len(c.networkInterceptors))
	chain = append(chain, c.userInterceptors...)
	chain = append(chain, c.interceptors[0], c.interceptors[1], c.interceptors[2])
	chain = append(chain, c.networkInterceptors...)
	chain = append(chain, c.interceptors[3], c.interceptors[4])
	return chain
}

// NewCall starts one request/response attempt sequence for req.
func (c *Client) NewCall(req *Request) *Call {
	return newCall(c, req)
}

// addressFor derives the immutable origin identity for req (spec §3
// Address), wiring the Client's dial/proxy/TLS configuration in.
func (c *Client) addressFor(req *Request) (*route.Address, error) {
	host := req.URL.Hostname()
	portStr := req.URL.Port()
	scheme := req.URL.Scheme
	var port int
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("httpcore: invalid port in %q: %w", req.URL.Host, err)
		}
		port = p
	} else if scheme == "https" {
		port = 443
	} else {
		port = 80
	}
	addr := &route.Address{
		Scheme:           scheme,
		Host:             host,
		Port:             port,
		Lookup:           c.config.Lookup,
		DialContext:      c.config.DialContext,
		HostnameVerifier: c.config.HostnameVerifier,
		Pinner:           c.config.CertificatePinner,
		Authenticator:    c.config.Authenticator,
		Protocols:        c.config.protocolStrings(),
		ProxySelector:    c.config.ProxySelector,
		FastFallback:     true,
	}
	if scheme == "https" {
		if c.config.TLSConfig != nil {
			cfg := c.config.TLSConfig.Clone()
			cfg.ServerName = host
			addr.TLSConfig = cfg
		} else {
			addr.TLSConfig = &tls.Config{ServerName: host}
		}
	}
	return addr, nil
}

// addressKey identifies an Address for pool policy lookups.
func addressKey(addr *route.Address) string {
	return fmt.Sprintf("%s://%s:%d", addr.Scheme, addr.Host, addr.Port)
}

// dial performs the TCP connect, optional TLS handshake with ALPN,
// and H1/H2 codec selection for one route.Route, satisfying
// route.Dialer (spec §4.7 "Find returns the first successfully
// connected route's connection").
func (c *Client) dial(ctx context.Context, r route.Route) (interface{}, error) {
	var nc net.Conn
	var err error
	if r.Proxy.Type == route.ProxySOCKS {
		nc, err = dialSOCKS(ctx, r)
	} else {
		dialFn := r.Address.DialContext
		if dialFn == nil {
			d := &net.Dialer{Timeout: c.config.ConnectTimeout}
			dialFn = d.DialContext
		}
		nc, err = dialFn(ctx, "tcp", r.DialAddr())
	}
	if err != nil {
		return nil, err
	}

	conn := &realConnection{Route: r, addr: r.Address, nc: nc, protocol: ProtocolHTTP11, idleAt: time.Now()}

	if r.Address.TLSConfig != nil {
		tlsCfg := r.Address.TLSConfig.Clone()
		if len(tlsCfg.NextProtos) == 0 {
			tlsCfg.NextProtos = r.Address.Protocols
		}
		tlsConn := tls.Client(nc, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, &TLSError{Err: err}
		}
		cs := tlsConn.ConnectionState()
		conn.handshake = &cs
		if r.Address.HostnameVerifier != nil && !r.Address.HostnameVerifier(r.Address.Host, &cs) {
			tlsConn.Close()
			return nil, &TLSError{Err: fmt.Errorf("httpcore: hostname verification failed for %s", r.Address.Host)}
		}
		if r.Address.Pinner != nil {
			chain := make([][]byte, len(cs.PeerCertificates))
			for i, cert := range cs.PeerCertificates {
				chain[i] = cert.Raw
			}
			if err := r.Address.Pinner.Check(r.Address.Host, chain); err != nil {
				tlsConn.Close()
				return nil, &TLSError{Err: err}
			}
		}
		conn.nc = tlsConn
		if cs.NegotiatedProtocol == string(ProtocolH2) {
			conn.protocol = ProtocolH2
		}
	} else if len(r.Address.Protocols) == 1 && r.Address.Protocols[0] == string(ProtocolH2) {
		conn.protocol = ProtocolH2 // H2 with prior knowledge over plaintext
	}

	if conn.protocol == ProtocolH2 {
		h2conn, err := h2.NewClientConn(conn.nc, c.tasks)
		if err != nil {
			conn.nc.Close()
			return nil, err
		}
		conn.h2conn = h2conn
		go h2conn.Serve()
	} else {
		conn.h1codec = h1.NewCodec(conn.nc, conn.markNoNewExchanges)
	}
	// Every route.Dialer invocation is a fresh connect (reuse never
	// goes through dial), so this is the single place a connection
	// enters the pool's bookkeeping (spec §4.6/§4.7).
	c.pool.Put(conn)
	return conn, nil
}

// Close shuts down background work: the connection pool's eviction
// loop, address-policy openers, and the task scheduler.
func (c *Client) Close() {
	c.pool.Shutdown()
	c.tasks.Close()
}
