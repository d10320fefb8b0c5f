/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/badu/httpcore/internal/hdr"
	"github.com/badu/httpcore/internal/jar"
)

// bridgeIntercept maps a user-facing Request onto the network's
// expectations and back: Host/User-Agent/Accept-Encoding defaults,
// cookie jar read/write, and transparent gzip (spec §4.8 "the Bridge
// interceptor converts between user requests and network requests").
func (c *Client) bridgeIntercept(chain *Chain) (*Response, error) {
	req := chain.Request()
	headers := req.Headers.Clone()

	if headers.Get(hdr.Host) == "" {
		headers.Set(hdr.Host, req.URL.Host)
	}
	if headers.Get(hdr.UserAgent) == "" {
		headers.Set(hdr.UserAgent, "httpcore/1.0")
	}
	if c.config.Jar != nil {
		if cookies := c.config.Jar.Cookies(req.URL); len(cookies) > 0 {
			headers.Set(hdr.CookieHeader, encodeCookies(cookies))
		}
	}
	transparentGzip := headers.Get(hdr.AcceptEncoding) == "" && headers.Get("Range") == ""
	if transparentGzip {
		headers.Set(hdr.AcceptEncoding, "gzip")
	}
	if req.Body != nil {
		if cl := req.Body.ContentLength(); cl >= 0 {
			headers.Set(hdr.ContentLength, strconv.FormatInt(cl, 10))
		} else {
			headers.Set(hdr.TransferEncoding, "chunked")
		}
	}
	if err := validateOutgoingHeaders(headers); err != nil {
		return nil, err
	}

	networkReq := *req
	networkReq.Headers = headers
	resp, err := chain.Proceed(&networkReq)
	if err != nil {
		return nil, err
	}

	if c.config.Jar != nil {
		if setCookie := resp.Headers.Values(hdr.SetCookieHeader); len(setCookie) > 0 {
			c.config.Jar.SetCookies(req.URL, decodeSetCookies(setCookie))
		}
	}

	if transparentGzip && strings.EqualFold(resp.Headers.Get(hdr.ContentEncoding), "gzip") {
		ungzipped, err := ungzipBody(resp.Body)
		if err != nil {
			return nil, &ProtocolError{Err: err}
		}
		stripped := resp.Headers.Clone()
		stripped.RemoveAll(hdr.ContentEncoding)
		stripped.RemoveAll(hdr.ContentLength)
		resp.Headers = stripped
		resp.Body = ungzipped
	}
	return resp, nil
}

// validateOutgoingHeaders rejects a request whose header names or
// values would produce an invalid HTTP/1.1 or HTTP/2 wire encoding
// (spec §4.2's header-canonicalization concern, enforced here rather
// than deep in the H1/H2 codecs so the error is attributed to the
// request that caused it).
func validateOutgoingHeaders(h hdr.Header) error {
	var invalid error
	h.Range(func(name, value string) {
		if invalid != nil {
			return
		}
		if !hdr.ValidName(name) {
			invalid = &ProtocolError{Err: fmt.Errorf("invalid header name %q", name)}
			return
		}
		if !hdr.ValidValue(value) {
			invalid = &ProtocolError{Err: fmt.Errorf("invalid value for header %q", name)}
		}
	})
	return invalid
}

func ungzipBody(body *ResponseBody) (*ResponseBody, error) {
	gz, err := gzip.NewReader(body)
	if err != nil {
		return nil, err
	}
	return &ResponseBody{
		ContentType:   body.ContentType,
		ContentLength: -1,
		reader:        &gzipCloser{gz: gz, underlying: body},
	}, nil
}

// gzipCloser closes both the gzip.Reader and the underlying body so
// the connection beneath it is released exactly once.
type gzipCloser struct {
	gz         *gzip.Reader
	underlying io.Closer
}

func (g *gzipCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }
func (g *gzipCloser) Close() error {
	g.gz.Close()
	return g.underlying.Close()
}

func encodeCookies(cookies []*jar.Cookie) string {
	var b strings.Builder
	for i, ck := range cookies {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ck.Name)
		b.WriteByte('=')
		b.WriteString(ck.Value)
	}
	return b.String()
}

// decodeSetCookies parses each Set-Cookie header value into a
// jar.Cookie, handling the Name=Value pair and the common attributes
// the jar understands.
func decodeSetCookies(values []string) []*jar.Cookie {
	out := make([]*jar.Cookie, 0, len(values))
	for _, v := range values {
		parts := strings.Split(v, ";")
		if len(parts) == 0 {
			continue
		}
		nv := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
		if len(nv) != 2 {
			continue
		}
		ck := &jar.Cookie{Name: strings.TrimSpace(nv[0]), Value: strings.TrimSpace(nv[1]), Path: "/"}
		for _, attr := range parts[1:] {
			attr = strings.TrimSpace(attr)
			kv := strings.SplitN(attr, "=", 2)
			key := strings.ToLower(kv[0])
			switch key {
			case "path":
				if len(kv) == 2 {
					ck.Path = kv[1]
				}
			case "domain":
				if len(kv) == 2 {
					ck.Domain = kv[1]
				}
			case "max-age":
				if len(kv) == 2 {
					if n, err := strconv.Atoi(kv[1]); err == nil {
						ck.MaxAge = n
					}
				}
			case "secure":
				ck.Secure = true
			case "httponly":
				ck.HttpOnly = true
			}
		}
		out = append(out, ck)
	}
	return out
}
