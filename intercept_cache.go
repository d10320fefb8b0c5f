/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"time"

	"github.com/badu/httpcore/internal/cache"
	"github.com/badu/httpcore/internal/hdr"
)

// cacheIntercept implements the RFC 7234 conditional-request and
// storage logic (spec §4.8/§4.9), delegating the freshness decision to
// internal/cache.Compute and the entry lifecycle to internal/cache.Cache.
// With no Cache configured it is a pass-through.
func (c *Client) cacheIntercept(chain *Chain) (*Response, error) {
	req := chain.Request()
	if c.config.Cache == nil || req.Method != "GET" {
		return chain.Proceed(req)
	}
	key := cache.Key(req.cacheURL())

	entry, sequence, ok := readCacheEntry(c.config.Cache, key)
	if ok && !cache.VaryMatches(entry.RequestHeaders, req.Headers, entry.ResponseHeaders) {
		entry, ok = nil, false
	}

	var cachedEntry *cache.Entry
	if ok {
		cachedEntry = entry
	}
	strategy := cache.Compute(req.Headers, cachedEntry, time.Now())

	if !strategy.Satisfiable() {
		c.config.Listener.CacheMiss()
		return unsatisfiableResponse(req), nil
	}

	if strategy.CacheResponse != nil && !strategy.NetworkRequest {
		c.config.Listener.CacheHit()
		return responseFromCacheEntry(req, strategy.CacheResponse), nil
	}

	networkReq := *req
	if strategy.IfNoneMatch != "" {
		h := req.Headers.Clone()
		h.Set(hdr.IfNoneMatch, strategy.IfNoneMatch)
		networkReq.Headers = h
	} else if strategy.IfModifiedSince != "" {
		h := req.Headers.Clone()
		h.Set(hdr.IfModifiedSince, strategy.IfModifiedSince)
		networkReq.Headers = h
	}

	resp, err := chain.Proceed(&networkReq)
	if err != nil {
		if strategy.CacheResponse != nil && cache.CanStaleOnError(hdr.Header{}, req.Headers, cache.Age(strategy.CacheResponse, time.Now())) {
			return responseFromCacheEntry(req, strategy.CacheResponse), nil
		}
		return nil, err
	}

	if strategy.CacheResponse != nil && resp.StatusCode == 304 {
		merged := cache.MergeNotModified(strategy.CacheResponse.ResponseHeaders, resp.Headers)
		updated := &cache.Entry{
			RequestHeaders:  req.Headers,
			StatusCode:      strategy.CacheResponse.StatusCode,
			ResponseHeaders: merged,
			SentAt:          strategy.CacheResponse.SentAt,
			ReceivedAt:      time.Now(),
		}
		writeCacheEntry(c.config.Cache, key, sequence, updated, nil)
		out := responseFromCacheEntry(req, updated)
		out.NetworkResponse = resp
		return out, nil
	}

	if cache.Cacheable(req.Headers, resp.Headers, resp.StatusCode) {
		stored := &cache.Entry{
			RequestHeaders:  req.Headers,
			StatusCode:      resp.StatusCode,
			ResponseHeaders: resp.Headers,
			SentAt:          time.UnixMilli(resp.SentRequestAtMillis),
			ReceivedAt:      time.UnixMilli(resp.ReceivedResponseAtMillis),
		}
		resp.Body = teeIntoCache(c.config.Cache, key, sequence, stored, resp.Body)
	} else {
		c.config.Cache.Remove(key)
	}
	c.config.Listener.CacheMiss()
	return resp, nil
}

// cacheMetadata is the gob-serializable form of cache.Entry; hdr.Header
// keeps its pairs unexported, so headers travel as ordered [2]string
// tuples instead.
type cacheMetadata struct {
	RequestHeaders  [][2]string
	StatusCode      int
	ResponseHeaders [][2]string
	SentAtUnixNano  int64
	ReceivedAtUnixNano int64
}

func toMetadata(e *cache.Entry) cacheMetadata {
	m := cacheMetadata{StatusCode: e.StatusCode, SentAtUnixNano: e.SentAt.UnixNano(), ReceivedAtUnixNano: e.ReceivedAt.UnixNano()}
	e.RequestHeaders.Range(func(n, v string) { m.RequestHeaders = append(m.RequestHeaders, [2]string{n, v}) })
	e.ResponseHeaders.Range(func(n, v string) { m.ResponseHeaders = append(m.ResponseHeaders, [2]string{n, v}) })
	return m
}

func (m cacheMetadata) toEntry() *cache.Entry {
	e := &cache.Entry{
		StatusCode: m.StatusCode,
		SentAt:     time.Unix(0, m.SentAtUnixNano),
		ReceivedAt: time.Unix(0, m.ReceivedAtUnixNano),
	}
	for _, p := range m.RequestHeaders {
		e.RequestHeaders.Add(p[0], p[1])
	}
	for _, p := range m.ResponseHeaders {
		e.ResponseHeaders.Add(p[0], p[1])
	}
	return e
}

// readCacheEntry loads a Snapshot's metadata stream, returning the
// entry's current commit sequence for a later EditIfMatch.
func readCacheEntry(c *cache.Cache, key string) (*cache.Entry, int64, bool) {
	snap, ok := c.Get(key)
	if !ok {
		return nil, 0, false
	}
	f, err := os.Open(snap.MetadataPath())
	if err != nil {
		return nil, 0, false
	}
	defer f.Close()
	var m cacheMetadata
	if err := gob.NewDecoder(f).Decode(&m); err != nil {
		return nil, 0, false
	}
	return m.toEntry(), snap.Sequence(), true
}

// writeCacheEntry commits a new metadata stream for key (used for the
// 304 header-merge path, which has no new body to store). body, when
// non-nil, is copied verbatim into the new entry; when nil, the previous
// entry's body stream is copied instead so the merge does not lose the
// cached payload.
func writeCacheEntry(c *cache.Cache, key string, expectedSequence int64, e *cache.Entry, body io.Reader) {
	ed, err := c.EditIfMatch(key, expectedSequence)
	if err != nil {
		ed, err = c.Edit(key)
		if err != nil {
			return
		}
	}
	if !writeMetadata(ed, e) {
		ed.Abort()
		return
	}
	if body != nil {
		if !copyToFile(ed.DirtyBodyPath(), body) {
			ed.Abort()
			return
		}
	} else if prevSnap, ok := c.Get(key); ok {
		if pf, err := os.Open(prevSnap.BodyPath()); err == nil {
			ok := copyToFile(ed.DirtyBodyPath(), pf)
			pf.Close()
			if !ok {
				ed.Abort()
				return
			}
		}
	} else {
		os.WriteFile(ed.DirtyBodyPath(), nil, 0o644)
	}
	ed.Commit()
}

func writeMetadata(ed *cache.Editor, e *cache.Entry) bool {
	f, err := os.Create(ed.DirtyMetadataPath())
	if err != nil {
		return false
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(toMetadata(e)) == nil
}

func copyToFile(path string, r io.Reader) bool {
	f, err := os.Create(path)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err == nil
}

// teeIntoCache wraps body so every byte read by the caller is also
// written to a new cache entry, committed once the body reaches EOF
// (spec §4.9 "the response body streams to the caller while
// simultaneously being written to the dirty body file").
func teeIntoCache(c *cache.Cache, key string, expectedSequence int64, e *cache.Entry, body *ResponseBody) *ResponseBody {
	ed, err := c.EditIfMatch(key, expectedSequence)
	if err != nil {
		ed, err = c.Edit(key)
		if err != nil {
			return body
		}
	}
	if !writeMetadata(ed, e) {
		ed.Abort()
		return body
	}
	bodyFile, err := os.Create(ed.DirtyBodyPath())
	if err != nil {
		ed.Abort()
		return body
	}
	return &ResponseBody{
		ContentType:   body.ContentType,
		ContentLength: body.ContentLength,
		reader: &cacheTeeCloser{
			underlying: body,
			bodyFile:   bodyFile,
			editor:     ed,
		},
	}
}

type cacheTeeCloser struct {
	underlying *ResponseBody
	bodyFile   *os.File
	editor     *cache.Editor
	failed     bool
}

func (t *cacheTeeCloser) Read(p []byte) (int, error) {
	n, err := t.underlying.Read(p)
	if n > 0 && !t.failed {
		if _, werr := t.bodyFile.Write(p[:n]); werr != nil {
			t.failed = true
		}
	}
	if err == io.EOF && !t.failed {
		t.bodyFile.Close()
		t.editor.Commit()
	}
	return n, err
}

func (t *cacheTeeCloser) Close() error {
	if !t.failed {
		t.bodyFile.Close()
		t.editor.Abort()
	}
	return t.underlying.Close()
}

// unsatisfiableResponse synthesizes the 504 "only-if-cached" answer
// spec §4.8 specifies for a request that forbids network access and
// has no usable cache entry.
func unsatisfiableResponse(req *Request) *Response {
	now := nowMillis()
	return &Response{
		Request:                  req,
		StatusCode:               504,
		Status:                   "Unsatisfiable Request (only-if-cached)",
		Headers:                  hdr.Header{},
		Body:                     &ResponseBody{reader: io.NopCloser(bytes.NewReader(nil))},
		SentRequestAtMillis:      now,
		ReceivedResponseAtMillis: now,
	}
}

func responseFromCacheEntry(req *Request, e *cache.Entry) *Response {
	return &Response{
		Request:                  req,
		StatusCode:               e.StatusCode,
		Status:                   "",
		Headers:                  e.ResponseHeaders,
		Body:                     &ResponseBody{reader: io.NopCloser(bytes.NewReader(nil))},
		SentRequestAtMillis:      e.SentAt.UnixMilli(),
		ReceivedResponseAtMillis: e.ReceivedAt.UnixMilli(),
	}
}
