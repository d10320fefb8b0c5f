/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/badu/httpcore/internal/hdr"
)

// Entry is the cached representation of one prior response: the
// metadata stream (stream .0 in the disk cache) plus enough of the
// original exchange's timestamps to compute age (spec §3 "Cache
// entry").
type Entry struct {
	RequestHeaders  hdr.Header
	StatusCode      int
	ResponseHeaders hdr.Header
	SentAt          time.Time
	ReceivedAt      time.Time
}

// directives is a parsed Cache-Control header, grounded on
// parseCacheControl in 2773d9a4_mchtech-httpcache__httpcache.go.go.
type directives map[string]string

func parseCacheControl(h hdr.Header) directives {
	cc := directives{}
	for _, part := range strings.Split(h.Get(hdr.CacheControl), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			cc[strings.ToLower(strings.TrimSpace(part[:i]))] = strings.Trim(part[i+1:], `" `)
		} else {
			cc[strings.ToLower(part)] = ""
		}
	}
	return cc
}

func (d directives) has(name string) bool  { _, ok := d[name]; return ok }
func (d directives) seconds(name string) (time.Duration, bool) {
	v, ok := d[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// Age computes the cached response's current age per RFC 7234 §4.2.3:
// max(apparentAge, correctedAgeValue) + residentTime, approximated
// here (as the spec's formula does) without clock-skew correction
// since a private client cache trusts its own wall clock.
func Age(e *Entry, now time.Time) time.Duration {
	apparentAge := e.ReceivedAt.Sub(parseDateHeader(e.ResponseHeaders))
	if apparentAge < 0 {
		apparentAge = 0
	}
	ageHeader := parseAgeHeader(e.ResponseHeaders)
	correctedAge := ageHeader
	if apparentAge > correctedAge {
		correctedAge = apparentAge
	}
	responseDelay := e.ReceivedAt.Sub(e.SentAt)
	if responseDelay < 0 {
		responseDelay = 0
	}
	resident := now.Sub(e.ReceivedAt)
	if resident < 0 {
		resident = 0
	}
	return correctedAge + responseDelay + resident
}

func parseDateHeader(h hdr.Header) time.Time {
	v := h.Get(hdr.Date)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(hdr.TimeFormat, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseAgeHeader(h hdr.Header) time.Duration {
	v := h.Get("Age")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// freshnessLifetime implements the precedence rule from spec §4.8:
// "If a response includes both an Expires header and a max-age
// directive, the max-age directive overrides the Expires header" —
// bounded by the request's own max-age if smaller.
func freshnessLifetime(e *Entry, reqCC directives) (time.Duration, bool) {
	respCC := parseCacheControl(e.ResponseHeaders)
	var lifetime time.Duration
	var hasLifetime bool

	if d, ok := respCC.seconds("max-age"); ok {
		lifetime, hasLifetime = d, true
	} else if exp := e.ResponseHeaders.Get(hdr.Expires); exp != "" {
		if t, err := time.Parse(hdr.TimeFormat, exp); err == nil {
			date := parseDateHeader(e.ResponseHeaders)
			if date.IsZero() {
				date = e.ReceivedAt
			}
			lifetime, hasLifetime = t.Sub(date), true
		}
	}

	if d, ok := reqCC.seconds("max-age"); ok && (!hasLifetime || d < lifetime) {
		lifetime, hasLifetime = d, true
	}
	return lifetime, hasLifetime
}

// Strategy is the outcome of evaluating a request against a (possibly
// absent) cache entry, per spec §4.8: a cache-only short-circuit, a
// network-only fetch, a conditional revalidation, or neither (504).
type Strategy struct {
	NetworkRequest bool
	CacheResponse  *Entry
	// IfNoneMatch/IfModifiedSince are set when both NetworkRequest and
	// CacheResponse are present: the caller must attach these validators.
	IfNoneMatch     string
	IfModifiedSince string
}

// Satisfiable reports whether at least one of NetworkRequest or
// CacheResponse is usable; if false the call must synthesize the 504
// "Unsatisfiable Request (only-if-cached)" response (spec §4.8).
func (s Strategy) Satisfiable() bool { return s.NetworkRequest || s.CacheResponse != nil }

// Compute decides the CacheStrategy for reqHeaders against cached
// (nil if there is no cache entry for this URL), as of now. Grounded
// on getFreshness in 2773d9a4_mchtech-httpcache__httpcache.go.go,
// adapted to the request/response split spec §4.8 describes.
func Compute(reqHeaders hdr.Header, cached *Entry, now time.Time) Strategy {
	reqCC := parseCacheControl(reqHeaders)

	if reqCC.has("no-cache") {
		return Strategy{NetworkRequest: true, CacheResponse: nil}
	}
	if cached == nil {
		if reqCC.has("only-if-cached") {
			return Strategy{}
		}
		return Strategy{NetworkRequest: true}
	}

	respCC := parseCacheControl(cached.ResponseHeaders)
	if respCC.has("no-cache") {
		return conditionalOrNetworkOnly(reqHeaders, cached)
	}

	lifetime, hasLifetime := freshnessLifetime(cached, reqCC)
	age := Age(cached, now)

	if minFresh, ok := reqCC.seconds("min-fresh"); ok {
		age += minFresh
	}
	if maxStale, ok := reqCC.seconds("max-stale"); ok {
		age -= maxStale
	} else if _, ok := reqCC["max-stale"]; ok {
		// bare max-stale (no value): any staleness is acceptable.
		return Strategy{CacheResponse: cached}
	}

	if hasLifetime && lifetime > age {
		return Strategy{CacheResponse: cached}
	}

	if reqCC.has("only-if-cached") {
		return Strategy{CacheResponse: cached}
	}

	return conditionalOrNetworkOnly(reqHeaders, cached)
}

// conditionalOrNetworkOnly builds a conditional GET when the cache
// entry carries a validator and the request does not already supply
// one (spec §4.8: "conditions are skipped when the request already
// carries If-None-Match or If-Modified-Since").
func conditionalOrNetworkOnly(reqHeaders hdr.Header, cached *Entry) Strategy {
	if reqHeaders.Get(hdr.IfNoneMatch) != "" || reqHeaders.Get(hdr.IfModifiedSince) != "" {
		return Strategy{NetworkRequest: true}
	}
	etag := cached.ResponseHeaders.Get(hdr.Etag)
	lastModified := cached.ResponseHeaders.Get(hdr.LastModified)
	if etag == "" && lastModified == "" {
		return Strategy{NetworkRequest: true}
	}
	return Strategy{
		NetworkRequest:  true,
		CacheResponse:   cached,
		IfNoneMatch:     etag,
		IfModifiedSince: lastModified,
	}
}

// CanStaleOnError reports whether the stale-if-error extension (RFC
// 5861) permits serving cached on a network failure.
func CanStaleOnError(respHeaders, reqHeaders hdr.Header, age time.Duration) bool {
	for _, h := range []hdr.Header{respHeaders, reqHeaders} {
		cc := parseCacheControl(h)
		v, ok := cc["stale-if-error"]
		if !ok {
			continue
		}
		if v == "" {
			return true
		}
		if d, err := strconv.Atoi(v); err == nil && time.Duration(d)*time.Second > age {
			return true
		}
	}
	return false
}

// Cacheable reports whether a response may be stored at all (spec
// §4.8 "store result if cacheable"), grounded on canStore in the same
// reference: no-store forbids it on either side, and only the listed
// status codes are stored. Whether the response carries a validator is
// not checked.
func Cacheable(reqHeaders, respHeaders hdr.Header, statusCode int) bool {
	if parseCacheControl(respHeaders).has("no-store") {
		return false
	}
	if parseCacheControl(reqHeaders).has("no-store") {
		return false
	}
	switch statusCode {
	case 200, 203, 204, 206, 300, 301, 404, 405, 410, 414, 501:
	default:
		return false
	}
	return true
}

// hopByHopHeaders are stripped from a 304 response before merging its
// headers into the cached entry (spec §4.8), grounded on
// getEndToEndHeaders in the same reference.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// MergeNotModified folds a 304 response's end-to-end headers into the
// cached response's headers (spec §4.8: "merge network headers into
// cache headers (drop hop-by-hop and invalidated-by-304 fields)").
func MergeNotModified(cached, network hdr.Header) hdr.Header {
	drop := make(map[string]bool, len(hopByHopHeaders))
	for k, v := range hopByHopHeaders {
		drop[k] = v
	}
	for _, name := range network.Values(hdr.Connection) {
		drop[hdr.CanonicalHeaderKey(name)] = true
	}

	merged := cached.Clone()
	for _, name := range network.Names() {
		if drop[name] {
			continue
		}
		merged.RemoveAll(name)
		for _, v := range network.Values(name) {
			merged.Add(name, v)
		}
	}
	return merged
}
