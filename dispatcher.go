/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import "sync"

// dispatcher runs enqueued Calls on their own goroutines, bounded by a
// total in-flight cap and a per-host cap (spec §5 "async execution is
// bounded by maxRequests/maxRequestsPerHost, with an overflow queue").
type dispatcher struct {
	maxRequests        int
	maxRequestsPerHost int

	mu          sync.Mutex
	running     []*asyncCall
	runningHost map[string]int
	waiting     []*asyncCall
}

type asyncCall struct {
	call *Call
	cb   ResponseCallback
	host string
}

func newDispatcher(maxRequests, maxRequestsPerHost int) *dispatcher {
	return &dispatcher{
		maxRequests:        maxRequests,
		maxRequestsPerHost: maxRequestsPerHost,
		runningHost:        make(map[string]int),
	}
}

func (d *dispatcher) enqueue(call *Call, cb ResponseCallback) {
	ac := &asyncCall{call: call, cb: cb, host: call.request.URL.Hostname()}
	d.mu.Lock()
	if d.canRunLocked(ac) {
		d.startLocked(ac)
		d.mu.Unlock()
		return
	}
	d.waiting = append(d.waiting, ac)
	d.mu.Unlock()
}

func (d *dispatcher) canRunLocked(ac *asyncCall) bool {
	if d.maxRequests > 0 && len(d.running) >= d.maxRequests {
		return false
	}
	if d.maxRequestsPerHost > 0 && d.runningHost[ac.host] >= d.maxRequestsPerHost {
		return false
	}
	return true
}

func (d *dispatcher) startLocked(ac *asyncCall) {
	d.running = append(d.running, ac)
	d.runningHost[ac.host]++
	go d.run(ac)
}

func (d *dispatcher) run(ac *asyncCall) {
	resp, err := ac.call.Execute()
	d.finished(ac)
	if err != nil {
		ac.cb.OnFailure(ac.call, err)
		return
	}
	ac.cb.OnResponse(ac.call, resp)
}

func (d *dispatcher) finished(ac *asyncCall) {
	d.mu.Lock()
	for i, r := range d.running {
		if r == ac {
			d.running = append(d.running[:i], d.running[i+1:]...)
			break
		}
	}
	d.runningHost[ac.host]--
	if d.runningHost[ac.host] == 0 {
		delete(d.runningHost, ac.host)
	}
	var promoted []*asyncCall
	remaining := d.waiting[:0]
	for _, w := range d.waiting {
		if len(promoted) == 0 && d.canRunLocked(w) {
			promoted = append(promoted, w)
			d.running = append(d.running, w)
			d.runningHost[w.host]++
		} else {
			remaining = append(remaining, w)
		}
	}
	d.waiting = remaining
	d.mu.Unlock()
	for _, w := range promoted {
		go d.run(w)
	}
}

// RunningCalls reports the number of calls currently executing, for
// tests and metrics.
func (d *dispatcher) RunningCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}
