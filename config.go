/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"context"
	"crypto/tls"
	"log"
	"net"
	"net/url"
	"time"

	"github.com/badu/httpcore/internal/cache"
	"github.com/badu/httpcore/internal/jar"
	"github.com/badu/httpcore/internal/route"
)

// Config holds every recognized option from spec §6. The public
// builder-shaped surface OkHttp-style clients carry is explicitly out
// of scope (spec §1); embedding applications construct a Config
// directly or via the Option functions below, mirroring the teacher's
// public-field Transport/Client style adapted to the functional-option
// pattern (SPEC_FULL.md §1 "Configuration").
type Config struct {
	CallTimeout    time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration

	RetryOnConnectionFailure bool
	FollowRedirects          bool
	FollowSSLRedirects       bool

	// Protocols is the ALPN preference order; must contain HTTP/1.1
	// unless the sole entry is H2 with prior knowledge (spec §6).
	Protocols []Protocol

	MaxRequestsPerHost int
	MaxRequests        int
	MaxIdleConnections int
	KeepAliveDuration  time.Duration

	DialContext      func(ctx context.Context, network, addr string) (net.Conn, error)
	TLSConfig        *tls.Config
	HostnameVerifier func(hostname string, cs *tls.ConnectionState) bool
	Lookup           func(ctx context.Context, host string) ([]net.IP, error)
	ProxySelector    func(ctx context.Context, u *url.URL) []route.Proxy
	Authenticator    route.Authenticator
	ProxyAuthenticator route.Authenticator
	CertificatePinner route.CertificatePinner

	Jar    *jar.Jar
	Cache  *cache.Cache
	Logger *log.Logger

	Listener Listener
}

// Option mutates a Config at construction time, mirroring the
// functional-options idiom used across the retrieval pack where a
// public builder type is not available.
type Option func(*Config)

// defaultConfig matches OkHttp's published defaults, which the spec
// assumes as the ambient behavior where it does not override them.
func defaultConfig() *Config {
	return &Config{
		CallTimeout:              0,
		ConnectTimeout:           10 * time.Second,
		ReadTimeout:              10 * time.Second,
		WriteTimeout:             10 * time.Second,
		PingInterval:             0,
		RetryOnConnectionFailure: true,
		FollowRedirects:          true,
		FollowSSLRedirects:       true,
		Protocols:                []Protocol{ProtocolH2, ProtocolHTTP11},
		MaxRequestsPerHost:       5,
		MaxRequests:              64,
		MaxIdleConnections:       5,
		KeepAliveDuration:        5 * time.Minute,
		Logger:                   log.Default(),
		Listener:                 NopListener{},
	}
}

func WithCallTimeout(d time.Duration) Option    { return func(c *Config) { c.CallTimeout = d } }
func WithConnectTimeout(d time.Duration) Option { return func(c *Config) { c.ConnectTimeout = d } }
func WithReadTimeout(d time.Duration) Option    { return func(c *Config) { c.ReadTimeout = d } }
func WithWriteTimeout(d time.Duration) Option   { return func(c *Config) { c.WriteTimeout = d } }
func WithPingInterval(d time.Duration) Option   { return func(c *Config) { c.PingInterval = d } }

func WithRetryOnConnectionFailure(v bool) Option { return func(c *Config) { c.RetryOnConnectionFailure = v } }
func WithFollowRedirects(v bool) Option          { return func(c *Config) { c.FollowRedirects = v } }
func WithFollowSSLRedirects(v bool) Option       { return func(c *Config) { c.FollowSSLRedirects = v } }

func WithProtocols(p ...Protocol) Option { return func(c *Config) { c.Protocols = p } }

func WithMaxRequestsPerHost(n int) Option { return func(c *Config) { c.MaxRequestsPerHost = n } }
func WithMaxRequests(n int) Option        { return func(c *Config) { c.MaxRequests = n } }
func WithMaxIdleConnections(n int) Option { return func(c *Config) { c.MaxIdleConnections = n } }
func WithKeepAliveDuration(d time.Duration) Option {
	return func(c *Config) { c.KeepAliveDuration = d }
}

func WithTLSConfig(t *tls.Config) Option    { return func(c *Config) { c.TLSConfig = t } }
func WithJar(j *jar.Jar) Option             { return func(c *Config) { c.Jar = j } }
func WithCache(ca *cache.Cache) Option      { return func(c *Config) { c.Cache = ca } }
func WithAuthenticator(a route.Authenticator) Option {
	return func(c *Config) { c.Authenticator = a }
}
func WithProxyAuthenticator(a route.Authenticator) Option {
	return func(c *Config) { c.ProxyAuthenticator = a }
}
func WithListener(l Listener) Option { return func(c *Config) { c.Listener = l } }
func WithLogger(l *log.Logger) Option { return func(c *Config) { c.Logger = l } }

// protocolStrings returns Protocols as plain strings for route.Address.
func (c *Config) protocolStrings() []string {
	out := make([]string, len(c.Protocols))
	for i, p := range c.Protocols {
		out[i] = string(p)
	}
	return out
}
