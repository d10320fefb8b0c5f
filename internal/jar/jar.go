/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package jar implements the simple per-domain, eTLD+1-scoped cookie
// store carried as ambient infrastructure (spec §1 names the cookie
// store an external collaborator for full browser semantics; this
// package provides the minimal storage the call pipeline's Bridge
// stage needs, adapted from the teacher's cli cookie package).
package jar

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/badu/httpcore/internal/urlutil"
)

// Cookie mirrors net/http.Cookie's shape, kept local so this package
// has no dependency on net/http.
type Cookie struct {
	Name, Value string
	Path        string
	Domain      string
	Expires     time.Time
	MaxAge      int
	Secure      bool
	HttpOnly    bool
}

// entry is the stored form of a Cookie, keyed by its domain;path;name
// identity (teacher's cli/cookie_entry.go).
type entry struct {
	Cookie
	HostOnly bool
	Created  time.Time
}

func (e *entry) id() string { return e.Domain + ";" + e.Path + ";" + e.Name }

func (e *entry) expired(now time.Time) bool {
	return !e.Expires.IsZero() && !e.Expires.After(now)
}

// shouldSend determines whether e qualifies to be included in a
// request to host/path (teacher's cli/cookie_entry.go shouldSend,
// domainMatch, pathMatch, generalized to be host/path rather than
// *url.URL specific).
func (e *entry) shouldSend(https bool, host, path string) bool {
	return e.domainMatch(host) && e.pathMatch(path) && (https || !e.Secure)
}

func (e *entry) domainMatch(host string) bool {
	if e.Domain == host {
		return true
	}
	return !e.HostOnly && hasDotSuffix(host, e.Domain)
}

func (e *entry) pathMatch(requestPath string) bool {
	if requestPath == e.Path {
		return true
	}
	le := len(e.Path)
	if len(requestPath) >= le && requestPath[:le] == e.Path {
		if e.Path[len(e.Path)-1] == '/' {
			return true
		} else if requestPath[le] == '/' {
			return true
		}
	}
	return false
}

func hasDotSuffix(s, suffix string) bool {
	return len(s) > len(suffix) && s[len(s)-len(suffix)-1] == '.' && s[len(s)-len(suffix):] == suffix
}

// Jar is a simple cookie store scoped per effective-TLD+1 (spec's
// Non-goals explicitly exclude full RFC 6265 public-suffix-aware
// browser semantics; PublicSuffixList here may be the in-memory test
// list from urlutil, or nil to skip eTLD+1 scoping entirely).
type Jar struct {
	mu       sync.Mutex
	entries  map[string]map[string]entry // keyed by eTLD+1 (or host, if psl is nil), then by entry id
	psl      urlutil.PublicSuffixList
}

// New returns an empty Jar. psl may be nil.
func New(psl urlutil.PublicSuffixList) *Jar {
	return &Jar{entries: make(map[string]map[string]entry), psl: psl}
}

func (j *Jar) jarKey(host string) string {
	if j.psl == nil {
		return host
	}
	if key, ok := urlutil.EffectiveTLDPlusOne(host, j.psl); ok {
		return key
	}
	return host
}

// SetCookies stores cookies observed in a response from u (the Bridge
// interceptor stage calls this after a successful exchange).
func (j *Jar) SetCookies(u *url.URL, cookies []*Cookie) {
	if len(cookies) == 0 {
		return
	}
	key := j.jarKey(u.Hostname())
	now := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()
	bucket := j.entries[key]
	if bucket == nil {
		bucket = make(map[string]entry)
		j.entries[key] = bucket
	}
	for _, c := range cookies {
		e := entry{Cookie: *c, Created: now}
		if e.Domain == "" {
			e.Domain = u.Hostname()
			e.HostOnly = true
		} else {
			e.Domain = strings.TrimPrefix(e.Domain, ".")
		}
		if e.Path == "" {
			e.Path = defaultPath(u.Path)
		}
		if e.MaxAge < 0 || (c.MaxAge == 0 && !c.Expires.IsZero() && c.Expires.Before(now)) {
			delete(bucket, e.id())
			continue
		}
		if e.MaxAge > 0 {
			e.Expires = now.Add(time.Duration(e.MaxAge) * time.Second)
		}
		bucket[e.id()] = e
	}
}

// Cookies returns the cookies that should be sent on a request to u,
// deleting expired entries of u's bucket as it meets them (this
// package does not run a background sweep).
func (j *Jar) Cookies(u *url.URL) []*Cookie {
	key := j.jarKey(u.Hostname())
	https := u.Scheme == "https"
	now := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()
	bucket := j.entries[key]
	if bucket == nil {
		return nil
	}
	var out []*Cookie
	for id, e := range bucket {
		if e.expired(now) {
			delete(bucket, id)
			continue
		}
		if e.shouldSend(https, u.Hostname(), u.Path) {
			c := e.Cookie
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return len(out[i].Path) > len(out[k].Path) })
	return out
}

func defaultPath(requestPath string) string {
	if requestPath == "" || requestPath[0] != '/' {
		return "/"
	}
	i := strings.LastIndexByte(requestPath, '/')
	if i == 0 {
		return "/"
	}
	return requestPath[:i]
}
