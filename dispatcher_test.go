/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"sync"
	"testing"
	"time"
)

type fakeCallback struct {
	mu       sync.Mutex
	response []*Response
	failure  []error
	done     chan struct{}
}

func newFakeCallback(n int) *fakeCallback {
	return &fakeCallback{done: make(chan struct{}, n)}
}

func (f *fakeCallback) OnResponse(call *Call, resp *Response) {
	f.mu.Lock()
	f.response = append(f.response, resp)
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *fakeCallback) OnFailure(call *Call, err error) {
	f.mu.Lock()
	f.failure = append(f.failure, err)
	f.mu.Unlock()
	f.done <- struct{}{}
}

// TestDispatcherRunsBelowCap drives the dispatcher with a Call built on
// trivialClient, whose chain answers immediately, since building a full
// Client is out of scope for this unit.
func TestDispatcherRunsBelowCap(t *testing.T) {
	d := newDispatcher(0, 0)
	req, _ := NewRequest("GET", "http://a.test/")
	call := newCall(trivialClient(), req)
	cb := newFakeCallback(1)
	d.enqueue(call, cb)
	<-cb.done
	if d.RunningCalls() != 0 {
		t.Fatalf("RunningCalls() after completion = %d, want 0", d.RunningCalls())
	}
}

func TestDispatcherEnforcesPerHostCap(t *testing.T) {
	d := newDispatcher(0, 1)
	host := "a.test"
	req1, _ := NewRequest("GET", "http://"+host+"/1")
	req2, _ := NewRequest("GET", "http://"+host+"/2")

	gate := make(chan struct{})
	c1 := newCall(gatedClient(gate), req1)
	c2 := newCall(trivialClient(), req2)

	cb1 := newFakeCallback(1)
	cb2 := newFakeCallback(1)
	d.enqueue(c1, cb1)

	// give the first call's goroutine a chance to register as running
	// before the second, per-host-capped call is enqueued.
	time.Sleep(10 * time.Millisecond)
	d.enqueue(c2, cb2)

	if d.RunningCalls() != 1 {
		t.Fatalf("RunningCalls() while host is saturated = %d, want 1", d.RunningCalls())
	}
	close(gate)
	<-cb1.done
	<-cb2.done
	if d.RunningCalls() != 0 {
		t.Fatalf("RunningCalls() after both finish = %d, want 0", d.RunningCalls())
	}
}

// trivialClient returns a Client whose fullChain answers every request
// immediately with a 200, for dispatcher unit tests that only care
// about scheduling, not network behavior. The interceptor slots are
// padded to 5 entries to match fullChain's fixed indexing, even though
// only the first (retry/follow-up slot) is ever reached.
func trivialClient() *Client {
	terminal := InterceptorFunc(func(chain *Chain) (*Response, error) { return &Response{StatusCode: 200}, nil })
	c := &Client{config: defaultConfig()}
	c.interceptors = []Interceptor{terminal, terminal, terminal, terminal, terminal}
	return c
}

// gatedClient is like trivialClient but blocks the first stage until
// gate is closed.
func gatedClient(gate <-chan struct{}) *Client {
	blocking := InterceptorFunc(func(chain *Chain) (*Response, error) {
		<-gate
		return &Response{StatusCode: 200}, nil
	})
	c := &Client{config: defaultConfig()}
	c.interceptors = []Interceptor{blocking, blocking, blocking, blocking, blocking}
	return c
}
