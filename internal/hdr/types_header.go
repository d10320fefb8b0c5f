/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package hdr implements an ordered, case-insensitive HTTP header list.
//
// Unlike net/http.Header (a map[string][]string, which loses insertion
// order), Header here is a flat slice of name/value pairs so that wire
// order is preserved exactly as received or as built by the caller, as
// the call pipeline's cache and conditional-request logic depend on it.
package hdr

import (
	"strings"
)

const (
	toLower = 'a' - 'A'

	Accept           = "Accept"
	AcceptEncoding   = "Accept-Encoding"
	AcceptLanguage   = "Accept-Language"
	Authorization    = "Authorization"
	CacheControl     = "Cache-Control"
	Connection       = "Connection"
	ContentEncoding  = "Content-Encoding"
	ContentLength    = "Content-Length"
	ContentType      = "Content-Type"
	CookieHeader     = "Cookie"
	Date             = "Date"
	Etag             = "Etag"
	Expires          = "Expires"
	Host             = "Host"
	IfModifiedSince  = "If-Modified-Since"
	IfNoneMatch      = "If-None-Match"
	LastModified     = "Last-Modified"
	Location         = "Location"
	Pragma           = "Pragma"
	ProxyAuthenticate = "Proxy-Authenticate"
	ProxyAuthorization = "Proxy-Authorization"
	Referer          = "Referer"
	RetryAfter       = "Retry-After"
	ServerHeader     = "Server"
	SetCookieHeader  = "Set-Cookie"
	TransferEncoding = "Transfer-Encoding"
	Trailer          = "Trailer"
	UpgradeHeader    = "Upgrade"
	UserAgent        = "User-Agent"
	Vary             = "Vary"
	Via              = "Via"
	WWWAuthenticate  = "Www-Authenticate"
	XForwardedFor    = "X-Forwarded-For"

	TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
)

var headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

// isTokenTable is a copy of net/http/lex.go's isTokenTable.
// See https://httpwg.github.io/specs/rfc7230.html#rule.token.separators
var isTokenTable = [127]bool{
	'0': true, '1': true, '2': true, '3': true, '4': true, '5': true, '6': true, '7': true,
	'8': true, '9': true,

	'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true, 'h': true,
	'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true, 'o': true, 'p': true,
	'q': true, 'r': true, 's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
	'y': true, 'z': true,

	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true, 'H': true,
	'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true, 'O': true, 'P': true,
	'Q': true, 'R': true, 'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
	'Y': true, 'Z': true,

	'!': true, '#': true, '$': true, '%': true, '&': true, '\'': true, '*': true, '+': true,
	'-': true, '.': true, '^': true, '_': true, '`': true, '|': true, '~': true,
}

// pair is one (name, value) entry, stored in canonical form.
type pair struct {
	name  string
	value string
}

// Header is an ordered, case-insensitive list of header fields. The
// zero value is an empty header ready to use.
type Header struct {
	pairs []pair
}

// New builds a Header from name/value pairs given in wire order.
func New(pairs ...string) Header {
	var h Header
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Add(pairs[i], pairs[i+1])
	}
	return h
}

// Len reports the number of entries (not the number of distinct names).
func (h Header) Len() int { return len(h.pairs) }

// Add appends a (name, value) pair, preserving prior entries for the
// same name.
func (h *Header) Add(name, value string) {
	h.pairs = append(h.pairs, pair{CanonicalHeaderKey(name), value})
}

// Set replaces all existing entries for name with a single entry.
func (h *Header) Set(name, value string) {
	name = CanonicalHeaderKey(name)
	h.RemoveAll(name)
	h.pairs = append(h.pairs, pair{name, value})
}

// Get returns the first value for name, or "" if absent.
func (h Header) Get(name string) string {
	name = CanonicalHeaderKey(name)
	for _, p := range h.pairs {
		if p.name == name {
			return p.value
		}
	}
	return ""
}

// Values returns all values for name in insertion order.
func (h Header) Values(name string) []string {
	name = CanonicalHeaderKey(name)
	var out []string
	for _, p := range h.pairs {
		if p.name == name {
			out = append(out, p.value)
		}
	}
	return out
}

// RemoveAll deletes every entry for name.
func (h *Header) RemoveAll(name string) {
	name = CanonicalHeaderKey(name)
	dst := h.pairs[:0]
	for _, p := range h.pairs {
		if p.name != name {
			dst = append(dst, p)
		}
	}
	h.pairs = dst
}

// Names returns the distinct header names in order of first appearance.
func (h Header) Names() []string {
	seen := make(map[string]bool, len(h.pairs))
	var out []string
	for _, p := range h.pairs {
		if !seen[p.name] {
			seen[p.name] = true
			out = append(out, p.name)
		}
	}
	return out
}

// Range calls f for every (name, value) pair in wire order.
func (h Header) Range(f func(name, value string)) {
	for _, p := range h.pairs {
		f(p.name, p.value)
	}
}

// Clone returns an independent copy.
func (h Header) Clone() Header {
	cp := make([]pair, len(h.pairs))
	copy(cp, h.pairs)
	return Header{pairs: cp}
}

// Builder is retained for callers that build headers incrementally
// before freezing them into a Request.
type Builder struct{ h Header }

func (b *Builder) Add(name, value string) *Builder { b.h.Add(name, value); return b }
func (b *Builder) Set(name, value string) *Builder  { b.h.Set(name, value); return b }
func (b *Builder) Build() Header                    { return b.h.Clone() }
