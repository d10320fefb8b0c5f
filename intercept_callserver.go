/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"io"
	"strconv"

	"github.com/badu/httpcore/internal/hdr"
)

// callServerIntercept drives the acquired exchangeCodec through one
// full request/response cycle: write headers, stream the body (with
// Expect: 100-continue honored when present), read the status line
// and headers, and open the response body source (spec §4.8 final
// stage, §4.3/§4.4 wire codecs).
func (c *Client) callServerIntercept(chain *Chain) (*Response, error) {
	req := chain.Request()
	ex := chain.Exchange()
	conn := ex.conn

	c.config.Listener.RequestHeadersStart()
	if err := ex.codec.WriteRequestHeaders(req); err != nil {
		c.finishConnection(conn, err)
		return nil, err
	}
	c.config.Listener.RequestHeadersEnd()

	sentAt := nowMillis()
	expectContinue := req.Headers.Get("Expect") == "100-continue"
	var bodyWritten int64
	if req.Body != nil && !expectContinue {
		var err error
		bodyWritten, err = ex.codec.WriteRequestBody(req.Body)
		if err != nil {
			c.finishConnection(conn, err)
			return nil, err
		}
		c.config.Listener.RequestBodyEnd(bodyWritten)
	}

	c.config.Listener.ResponseHeadersStart()
	statusCode, status, headers, err := ex.codec.ReadResponseHeaders()
	if err != nil {
		c.finishConnection(conn, err)
		return nil, err
	}

	if expectContinue && req.Body != nil {
		if statusCode == 100 {
			bodyWritten, err = ex.codec.WriteRequestBody(req.Body)
			if err != nil {
				c.finishConnection(conn, err)
				return nil, err
			}
			c.config.Listener.RequestBodyEnd(bodyWritten)
			statusCode, status, headers, err = ex.codec.ReadResponseHeaders()
			if err != nil {
				c.finishConnection(conn, err)
				return nil, err
			}
		} else {
			// Server answered without a 100: the body is skipped per
			// RFC 7231 §5.1.1, and nothing further is written.
		}
	}

	if err := ex.codec.FinishRequest(); err != nil {
		c.finishConnection(conn, err)
		return nil, err
	}
	c.config.Listener.ResponseHeadersEnd(statusCode)

	rawBody, err := ex.codec.OpenResponseBody(headers, statusCode)
	if err != nil {
		c.finishConnection(conn, err)
		return nil, err
	}

	contentLength := int64(-1)
	if cl := headers.Get(hdr.ContentLength); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
			contentLength = n
		}
	}

	tracked := &trackedBody{
		ReadCloser: rawBody,
		onDone: func(bytesRead int64, bodyErr error) {
			c.config.Listener.ResponseBodyEnd(bytesRead)
			conn.releaseCall()
			c.finishConnection(conn, classifyBodyErr(bodyErr))
		},
	}

	resp := &Response{
		Request:                  req,
		Protocol:                 conn.protocol,
		StatusCode:               statusCode,
		Status:                   status,
		Headers:                  headers,
		Body:                     &ResponseBody{ContentType: headers.Get(hdr.ContentType), ContentLength: contentLength, reader: tracked},
		Trailers:                 ex.codec.Trailers,
		Handshake:                conn.handshake,
		SentRequestAtMillis:      sentAt,
		ReceivedResponseAtMillis: nowMillis(),
	}
	return resp, nil
}

// classifyBodyErr treats a clean EOF as success, so finishConnection
// releases rather than evicts a connection whose body was fully read.
func classifyBodyErr(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}

// trackedBody calls onDone exactly once, on the first Close or the
// first read that observes a terminal error (EOF included), so the
// connection returns to the pool as soon as the exchange is truly
// finished (spec §5 "a connection is released back to the pool only
// once its exchange's body has been fully consumed or closed").
type trackedBody struct {
	io.ReadCloser
	onDone func(bytesRead int64, err error)

	bytesRead int64
	done      bool
}

func (t *trackedBody) Read(p []byte) (int, error) {
	n, err := t.ReadCloser.Read(p)
	t.bytesRead += int64(n)
	if err != nil && !t.done {
		t.done = true
		t.onDone(t.bytesRead, err)
	}
	return n, err
}

func (t *trackedBody) Close() error {
	err := t.ReadCloser.Close()
	if !t.done {
		t.done = true
		t.onDone(t.bytesRead, err)
	}
	return err
}
