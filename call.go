/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/badu/httpcore/internal/route"
)

// Call owns a single request/response attempt sequence (spec §4.8). It
// is not safe to share across goroutines except for Cancel, mirroring
// the concurrency model in spec §5.
type Call struct {
	client     *Client
	request    *Request
	ctx        context.Context
	cancelFunc context.CancelFunc

	canceled  int32
	executed  int32
	listener  Listener

	mu           sync.Mutex
	currentCodec exchangeCodec // set while a connect/call-server stage is in flight, for Cancel to reach it
	planners     map[string]*route.Planner // one per distinct Address seen across this call's follow-ups
	followUps    int
}

// plannerFor returns the Planner for addr, creating one on first use
// so postponed/deferred routes persist across a call's retries
// (spec §4.6) instead of re-resolving DNS on every attempt.
func (call *Call) plannerFor(key string, addr *route.Address) *route.Planner {
	call.mu.Lock()
	defer call.mu.Unlock()
	if call.planners == nil {
		call.planners = make(map[string]*route.Planner)
	}
	p, ok := call.planners[key]
	if !ok {
		p = route.NewPlanner(addr, call.client.pool)
		call.planners[key] = p
	}
	return p
}

func newCall(client *Client, req *Request) *Call {
	timeout := client.config.CallTimeout
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	listener := client.config.Listener
	if listener == nil {
		listener = NopListener{}
	}
	return &Call{client: client, request: req, ctx: ctx, cancelFunc: cancel, listener: listener}
}

// Cancel is idempotent and terminal for this call (spec §5): it closes
// the socket behind any in-flight exchange and cancels the call's
// context, which every suspension point observes.
func (call *Call) Cancel() {
	if !atomic.CompareAndSwapInt32(&call.canceled, 0, 1) {
		return
	}
	call.mu.Lock()
	codec := call.currentCodec
	call.mu.Unlock()
	if codec != nil {
		codec.Cancel()
	}
	call.cancelFunc()
	call.listener.Canceled()
}

// IsCanceled reports whether Cancel has been called.
func (call *Call) IsCanceled() bool { return atomic.LoadInt32(&call.canceled) != 0 }

func (call *Call) setCurrentCodec(codec exchangeCodec) {
	call.mu.Lock()
	call.currentCodec = codec
	call.mu.Unlock()
}

// Execute runs the call synchronously on the calling goroutine,
// driving the interceptor chain to completion (spec §4.8).
func (call *Call) Execute() (*Response, error) {
	if !atomic.CompareAndSwapInt32(&call.executed, 0, 1) {
		return nil, errAlreadyExecuted
	}
	req := call.request.WithTag(ctxTag{ctx: call.ctx})
	chain := &Chain{interceptors: call.client.fullChain(), request: req, call: call}
	resp, err := chain.Proceed(req)
	if err != nil {
		call.listener.CallFailed(err)
		return nil, call.wrapErr(err)
	}
	call.listener.CallEnd()
	return resp, nil
}

// wrapErr surfaces cancellation distinctly from other failures, per
// spec §7 "translate to IOException("Canceled")".
func (call *Call) wrapErr(err error) error {
	if call.IsCanceled() {
		return &CallError{Primary: ErrCanceled, Suppressed: []error{err}}
	}
	if ce, ok := err.(*CallError); ok {
		return ce
	}
	return &CallError{Primary: err}
}

// ResponseCallback receives the outcome of an asynchronous Enqueue.
type ResponseCallback interface {
	OnResponse(call *Call, resp *Response)
	OnFailure(call *Call, err error)
}

// Enqueue schedules the call to run asynchronously on the Client's
// dispatcher, honoring maxRequestsPerHost/maxRequests (spec §5).
func (call *Call) Enqueue(cb ResponseCallback) {
	call.client.dispatcher.enqueue(call, cb)
}

type callError string

func (e callError) Error() string { return string(e) }

const errAlreadyExecuted = callError("httpcore: call already executed")
