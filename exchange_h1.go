/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"io"
	"strconv"
	"strings"

	"github.com/badu/httpcore/internal/h1"
	"github.com/badu/httpcore/internal/hdr"
)

// h1CodecAdapter drives an h1.Codec to satisfy exchangeCodec, deciding
// response body framing (fixed/chunked/until-close) the way spec §4.3
// describes.
type h1CodecAdapter struct {
	codec         *h1.Codec
	requestMethod string
	bodyReader    io.Reader
}

func (a *h1CodecAdapter) WriteRequestHeaders(req *Request) error {
	a.requestMethod = req.Method
	path := req.URL.RequestURI()
	host := req.URL.Host
	if v := req.Headers.Get(hdr.Host); v != "" {
		host = v
	}
	return a.codec.WriteRequestHeaders(req.Method, path, host, req.Headers)
}

func (a *h1CodecAdapter) WriteRequestBody(body RequestBody) (int64, error) {
	if body == nil {
		return 0, nil
	}
	w, err := a.codec.CreateRequestBody(body.ContentLength())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, body)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (a *h1CodecAdapter) FinishRequest() error {
	return a.codec.FinishRequestBody()
}

func (a *h1CodecAdapter) ReadResponseHeaders() (int, string, hdr.Header, error) {
	sl, h, err := a.codec.ReadResponseHeaders()
	if err != nil {
		return 0, "", hdr.Header{}, err
	}
	return sl.StatusCode, sl.Status, h, nil
}

// hasBody reports whether statusCode/method combination permits a
// response entity at all, per RFC 7230 §3.3.3.
func hasBody(method string, statusCode int) bool {
	if method == "HEAD" {
		return false
	}
	if statusCode == 204 || statusCode == 304 {
		return false
	}
	if statusCode >= 100 && statusCode < 200 {
		return false
	}
	return true
}

func (a *h1CodecAdapter) OpenResponseBody(headers hdr.Header, statusCode int) (io.ReadCloser, error) {
	if !hasBody(a.requestMethod, statusCode) {
		r, err := a.codec.OpenResponseBodySource(h1.BodyFixed, 0)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(r), nil
	}
	te := strings.ToLower(headers.Get(hdr.TransferEncoding))
	if strings.Contains(te, "chunked") {
		r, err := a.codec.OpenResponseBodySource(h1.BodyChunked, -1)
		if err != nil {
			return nil, err
		}
		a.bodyReader = r
		return io.NopCloser(r), nil
	}
	if cl := headers.Get(hdr.ContentLength); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			n = 0
		}
		r, err := a.codec.OpenResponseBodySource(h1.BodyFixed, n)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(r), nil
	}
	r, err := a.codec.OpenResponseBodySource(h1.BodyUntilClose, -1)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(r), nil
}

func (a *h1CodecAdapter) Trailers() (hdr.Header, error) {
	if a.bodyReader == nil {
		return hdr.Header{}, nil
	}
	return a.codec.Trailers(a.bodyReader)
}

func (a *h1CodecAdapter) Cancel() {
	a.codec.Close()
}
