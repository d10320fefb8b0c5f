/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

// Interceptor observes or rewrites one stage of the call pipeline
// (spec §4.8): it either answers locally or calls chain.Proceed with a
// possibly modified request, and the response bubbles back through
// every interceptor that called Proceed.
type Interceptor interface {
	Intercept(chain *Chain) (*Response, error)
}

// InterceptorFunc adapts a plain function to Interceptor.
type InterceptorFunc func(chain *Chain) (*Response, error)

func (f InterceptorFunc) Intercept(chain *Chain) (*Response, error) { return f(chain) }

// Chain carries one request through the fixed interceptor sequence
// (spec §4.8): user interceptors, retry & follow-up, bridge, cache,
// network interceptors, connect, call-server.
type Chain struct {
	interceptors []Interceptor
	index        int

	request *Request
	call    *Call

	// exchange is the acquired connection+codec for this attempt, set
	// by the connect stage and consumed by call-server.
	exchange *exchange
}

// Proceed invokes the next interceptor in the chain with req, or
// returns an error if the chain is exhausted without a terminal stage
// answering (a programming error: call-server must always be last).
func (c *Chain) Proceed(req *Request) (*Response, error) {
	return c.proceed(req, c.exchange)
}

// ProceedWithExchange is Proceed, additionally attaching ex so the
// next interceptor (call-server) can drive the acquired connection.
// Only the connect interceptor calls this.
func (c *Chain) ProceedWithExchange(req *Request, ex *exchange) (*Response, error) {
	return c.proceed(req, ex)
}

func (c *Chain) proceed(req *Request, ex *exchange) (*Response, error) {
	if c.index >= len(c.interceptors) {
		return nil, errChainExhausted
	}
	next := &Chain{
		interceptors: c.interceptors,
		index:        c.index + 1,
		request:      req,
		call:         c.call,
		exchange:     ex,
	}
	return c.interceptors[c.index].Intercept(next)
}

// Exchange returns the connection+codec acquired by the connect stage,
// available only to interceptors after it (call-server).
func (c *Chain) Exchange() *exchange { return c.exchange }

// Request returns the request this link of the chain observes.
func (c *Chain) Request() *Request { return c.request }

// Call returns the owning Call, giving interceptors access to the
// client's configuration and the call's cancellation state.
func (c *Chain) Call() *Call { return c.call }

type chainError string

func (e chainError) Error() string { return string(e) }

const errChainExhausted = chainError("httpcore: interceptor chain exhausted without a terminal response")
