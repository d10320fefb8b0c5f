/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package route

import (
	"context"
	"net"
	"strconv"
	"sync"
)

// Route is one fully-resolved (proxy, ip) candidate ready to dial.
type Route struct {
	Address *Address
	Proxy   Proxy
	IP      net.IP
}

// DialAddr is the host:port the call pipeline's dialer connects to for
// this route (direct or through an HTTP/SOCKS proxy's own address).
func (r Route) DialAddr() string {
	if r.Proxy.Type != ProxyDirect && r.Proxy.Address != "" {
		return r.Proxy.Address
	}
	return net.JoinHostPort(r.IP.String(), strconv.Itoa(r.Address.Port))
}

// RouteSelector enumerates proxies for an Address in order, expands
// each to socket addresses, and (when FastFallback is set) interleaves
// IPv4/IPv6 results via Happy Eyeballs so the first two attempts cover
// both families (spec §4.6).
type RouteSelector struct {
	addr *Address

	mu        sync.Mutex
	proxies   []Proxy
	proxyIdx  int
	routes    []Route // current proxy's expanded, ordered routes not yet tried
	postponed []Route // failed (address, proxy, ip) triples, tried last, LIFO
}

// NewRouteSelector enumerates addr's proxies eagerly; IP expansion for
// each proxy happens lazily in Next since it may require a DNS lookup.
func NewRouteSelector(addr *Address) *RouteSelector {
	s := &RouteSelector{addr: addr}
	if addr.ExplicitProxy != nil {
		s.proxies = []Proxy{*addr.ExplicitProxy}
	} else if addr.ProxySelector != nil {
		s.proxies = addr.ProxySelector(context.Background(), addr.requestURL())
	}
	if len(s.proxies) == 0 {
		s.proxies = []Proxy{{Type: ProxyDirect}}
	}
	return s
}

// HasNext reports whether another route can be produced without
// blocking on a failed DNS lookup.
func (s *RouteSelector) HasNext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.routes) > 0 || len(s.postponed) > 0 || s.proxyIdx < len(s.proxies)
}

// Next returns the next route to try, resolving DNS for the current
// proxy's address on first use. Postponed routes are only returned
// once every fresh proxy has been exhausted.
func (s *RouteSelector) Next(ctx context.Context) (Route, error) {
	s.mu.Lock()
	for len(s.routes) == 0 && s.proxyIdx < len(s.proxies) {
		p := s.proxies[s.proxyIdx]
		s.proxyIdx++
		s.mu.Unlock()
		ips, err := s.expand(ctx, p)
		s.mu.Lock()
		if err != nil {
			continue
		}
		s.routes = ips
	}
	if len(s.routes) > 0 {
		r := s.routes[0]
		s.routes = s.routes[1:]
		s.mu.Unlock()
		return r, nil
	}
	if len(s.postponed) > 0 {
		r := s.postponed[len(s.postponed)-1]
		s.postponed = s.postponed[:len(s.postponed)-1]
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()
	return Route{}, errNoMoreRoutes
}

// Postpone records a failed route to be retried last, in LIFO order
// (spec §4.6: "Failed ... triples are postponed and tried last in LIFO order").
func (s *RouteSelector) Postpone(r Route) {
	s.mu.Lock()
	s.postponed = append(s.postponed, r)
	s.mu.Unlock()
}

func (s *RouteSelector) expand(ctx context.Context, p Proxy) ([]Route, error) {
	if p.Type == ProxySOCKS {
		return []Route{{Address: s.addr, Proxy: p, IP: nil}}, nil
	}
	host := s.addr.Host
	if ip := net.ParseIP(host); ip != nil {
		return []Route{{Address: s.addr, Proxy: p, IP: ip}}, nil
	}
	lookup := s.addr.Lookup
	if lookup == nil {
		lookup = defaultLookup
	}
	ips, err := lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	if s.addr.FastFallback {
		ips = happyEyeballsInterleave(ips)
	}
	routes := make([]Route, len(ips))
	for i, ip := range ips {
		routes[i] = Route{Address: s.addr, Proxy: p, IP: ip}
	}
	return routes, nil
}

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}

// happyEyeballsInterleave reorders ips so that IPv6 and IPv4 addresses
// alternate, guaranteeing the first two attempts span both families
// (RFC 8305, spec §4.6).
func happyEyeballsInterleave(ips []net.IP) []net.IP {
	var v6, v4 []net.IP
	for _, ip := range ips {
		if ip.To4() == nil {
			v6 = append(v6, ip)
		} else {
			v4 = append(v4, ip)
		}
	}
	out := make([]net.IP, 0, len(ips))
	for i := 0; i < len(v6) || i < len(v4); i++ {
		if i < len(v6) {
			out = append(out, v6[i])
		}
		if i < len(v4) {
			out = append(out, v4[i])
		}
	}
	return out
}

type routeError string

func (e routeError) Error() string { return string(e) }

const errNoMoreRoutes = routeError("route: no more routes to try")
