/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package route implements route planning and fast-fallback connection
// racing: RouteSelector enumerates (proxy, ip) candidates for an
// Address, RoutePlanner sequences pool reuse against fresh connects,
// and Finder races TCP connects across the planned routes.
package route

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strconv"
)

// Authenticator answers a 401/407 challenge with credentials for a
// retried request, or reports it cannot (spec §4.8).
type Authenticator interface {
	Authenticate(ctx context.Context, challenge *Challenge) (headerValue string, ok bool)
}

// Challenge carries the parameters of a WWW-Authenticate/Proxy-Authenticate
// header.
type Challenge struct {
	Scheme string
	Realm  string
	Proxy  bool
}

// CertificatePinner lets an embedding application reject a handshake
// whose certificate chain does not match pinned hashes. TLS itself is
// an external collaborator (spec §1); this is the hook a caller wires
// into tls.Config.VerifyPeerCertificate.
type CertificatePinner interface {
	Check(hostname string, chain [][]byte) error
}

// Address is the immutable identity of an origin (spec §3 Address):
// two connections may be coalesced onto one transport iff their
// Addresses match on this tuple, modulo DNS.
type Address struct {
	Scheme            string
	Host              string
	Port              int
	Lookup            func(ctx context.Context, host string) ([]net.IP, error) // DNS: external collaborator
	DialContext       func(ctx context.Context, network, addr string) (net.Conn, error)
	TLSConfig         *tls.Config // nil for plaintext
	HostnameVerifier  func(hostname string, cs *tls.ConnectionState) bool
	Pinner            CertificatePinner
	Authenticator     Authenticator
	Protocols         []string // ALPN preference order, e.g. []string{"h2", "http/1.1"}
	ProxySelector     func(ctx context.Context, u *url.URL) []Proxy
	ExplicitProxy     *Proxy // non-nil pins a single proxy, bypassing ProxySelector
	FastFallback      bool
}

func (a *Address) requestURL() *url.URL {
	return &url.URL{Scheme: a.Scheme, Host: net.JoinHostPort(a.Host, strconv.Itoa(a.Port))}
}

// Equivalent reports whether two addresses share the coalescing
// identity tuple: scheme, host, port, and TLS/proxy configuration,
// ignoring only the resolved IPs (spec §3).
func (a *Address) Equivalent(b *Address) bool {
	if a.Scheme != b.Scheme || a.Host != b.Host || a.Port != b.Port {
		return false
	}
	if (a.TLSConfig == nil) != (b.TLSConfig == nil) {
		return false
	}
	if len(a.Protocols) != len(b.Protocols) {
		return false
	}
	for i := range a.Protocols {
		if a.Protocols[i] != b.Protocols[i] {
			return false
		}
	}
	return true
}

// ProxyType distinguishes the three proxy shapes the selector expands
// (spec §4.6 RouteSelector).
type ProxyType int

const (
	ProxyDirect ProxyType = iota
	ProxyHTTP
	ProxySOCKS
)

// Proxy is one candidate proxy, or the direct-connection sentinel.
type Proxy struct {
	Type    ProxyType
	Address string // host:port, empty for ProxyDirect
}
