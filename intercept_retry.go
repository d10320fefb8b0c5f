/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"io"
	"strings"

	"github.com/badu/httpcore/internal/hdr"
	"github.com/badu/httpcore/internal/route"
)

// retryFollowUpIntercept is the outermost fixed stage (spec §4.8): it
// retries a recoverable connection failure on the request's original
// route set, and otherwise decides whether the response itself calls
// for a follow-up (redirect, 401/407 challenge, 408/503 retry) up to
// maxFollowUps attempts.
func (c *Client) retryFollowUpIntercept(chain *Chain) (*Response, error) {
	req := chain.Request()
	call := chain.Call()
	var prior *Response

	for {
		if call.IsCanceled() {
			return nil, ErrCanceled
		}
		resp, err := chain.Proceed(req)
		if err != nil {
			bodyStreamed := req.Body != nil && req.Body.IsOneShot()
			if !c.config.RetryOnConnectionFailure || !recoverable(err, bodyStreamed, true) {
				return nil, err
			}
			if !resetBody(req.Body) {
				return nil, err
			}
			continue
		}
		resp.PriorResponse = prior

		followUp := c.followUpRequest(req, resp)
		if followUp == nil {
			return resp, nil
		}
		call.followUps++
		if call.followUps > maxFollowUps {
			drainAndClose(resp.Body)
			return nil, ErrTooManyFollowUps
		}
		if followUp.Body != nil && !resetBody(followUp.Body) {
			return resp, nil
		}
		// resp is being superseded by followUp: drain and close its
		// body now so the connection behind it releases back to the
		// pool instead of sitting open until GC (spec §5 "a connection
		// is released back to the pool only once its exchange's body
		// has been fully consumed or closed").
		drainAndClose(resp.Body)
		prior = resp
		req = followUp
	}
}

// drainAndClose discards a superseded follow-up response's body so its
// connection is released, mirroring OkHttp's closeQuietly(response.body())
// on every non-final response in the redirect/re-auth chain.
func drainAndClose(body *ResponseBody) {
	if body == nil {
		return
	}
	io.Copy(io.Discard, body)
	body.Close()
}

// resetBody rewinds req's body for retransmission, reporting false if
// it cannot be replayed (spec §9 "One-shot body... the retry
// interceptor may not replay it").
func resetBody(body RequestBody) bool {
	if body == nil {
		return true
	}
	r, ok := body.(bodyResetter)
	if !ok {
		return !body.IsOneShot()
	}
	r.reset()
	return true
}

// followUpRequest returns the next request to attempt given resp, or
// nil if resp should be returned to the caller as final (spec §4.8
// follow-up decision table).
func (c *Client) followUpRequest(req *Request, resp *Response) *Request {
	switch resp.StatusCode {
	case 401:
		return c.authenticateFollowUp(req, resp, c.config.Authenticator, hdr.Authorization, false)
	case 407:
		return c.authenticateFollowUp(req, resp, c.config.ProxyAuthenticator, hdr.ProxyAuthorization, true)
	case 300, 301, 302, 303, 307, 308:
		return c.redirectFollowUp(req, resp)
	case 408:
		if !c.config.RetryOnConnectionFailure || req.Body != nil && req.Body.IsOneShot() {
			return nil
		}
		if strings.EqualFold(resp.Headers.Get(hdr.Connection), "close") {
			return nil
		}
		return req
	case 503:
		if resp.Headers.Get(hdr.RetryAfter) == "0" {
			return req
		}
		return nil
	case 421:
		// Misdirected Request: the connection's origin no longer
		// matches; retrying on a fresh connection needs a distinct
		// route.Address (coalescing disabled), which this simplified
		// pipeline does not track per-attempt, so treat as final.
		return nil
	}
	return nil
}

func (c *Client) authenticateFollowUp(req *Request, resp *Response, auth route.Authenticator, headerName string, proxy bool) *Request {
	if auth == nil {
		return nil
	}
	challenge := &route.Challenge{Proxy: proxy}
	value, ok := auth.Authenticate(req.context(), challenge)
	if !ok {
		return nil
	}
	clone := *req
	h := req.Headers.Clone()
	h.Set(headerName, value)
	clone.Headers = h
	return &clone
}

// redirectFollowUp builds the request a redirect response demands,
// applying the 303/POST method-downgrade rule and refusing to cross
// from HTTPS to HTTP when FollowSSLRedirects is false (spec §4.8).
func (c *Client) redirectFollowUp(req *Request, resp *Response) *Request {
	if !c.config.FollowRedirects {
		return nil
	}
	location := resp.Headers.Get(hdr.Location)
	if location == "" {
		return nil
	}
	newURL, err := req.URL.Parse(location)
	if err != nil {
		return nil
	}
	wasSecure := req.URL.Scheme == "https"
	nowSecure := newURL.Scheme == "https"
	if wasSecure && !nowSecure && !c.config.FollowSSLRedirects {
		return nil
	}

	method := req.Method
	body := req.Body
	if resp.StatusCode == 303 || ((resp.StatusCode == 301 || resp.StatusCode == 302) && method == "POST") {
		method = "GET"
		body = nil
	}

	clone := *req
	clone.URL = newURL
	clone.Method = method
	clone.Body = body
	return &clone
}
