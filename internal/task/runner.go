/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package task implements a process-wide runner of serial task queues
// multiplexed onto a worker pool, per spec §4.1. Every periodic
// background activity in the engine — pool cleanup, per-address
// openers, HTTP/2 pings — schedules through a TaskQueue rather than
// spawning a free-running goroutine and ticker, so tests can run
// against a virtual clock instead of wall time (spec §5). Dedicated
// per-connection I/O loops (the H2 frame reader, WebSocket
// reader/writer) stay plain goroutines: spec §5 gives each H2
// connection "one reader thread", not a scheduled task.
package task

import (
	"container/heap"
	"sync"
	"time"
)

// Clock is an injectable source of monotonic time, letting tests
// advance time deterministically instead of sleeping.
type Clock interface {
	NowNanos() int64
	// AfterFunc schedules f to run after d elapses on this clock and
	// returns a cancel function.
	AfterFunc(d time.Duration, f func()) (cancel func())
}

type realClock struct{}

func (realClock) NowNanos() int64 { return time.Now().UnixNano() }

func (realClock) AfterFunc(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// RealClock is the default, wall-clock-backed Clock.
var RealClock Clock = realClock{}

// Runner is the process-wide coordinator. It owns a monitor lock
// guarding the set of queues that have work ready to run, and hands
// runnable tasks to a bounded worker pool.
type Runner struct {
	clock Clock

	mu          sync.Mutex
	cond        *sync.Cond
	readyQueues queueHeap // min-heap ordered by next due task time
	busy        map[*TaskQueue]bool
	sem         chan struct{} // bounds concurrent task execution
	closed      bool
	wake        chan struct{}
	started     bool
}

// NewRunner creates a Runner backed by clock with up to maxParallel
// tasks executing concurrently across all queues (0 means unbounded).
func NewRunner(clock Clock, maxParallel int) *Runner {
	if clock == nil {
		clock = RealClock
	}
	r := &Runner{
		clock: clock,
		busy:  make(map[*TaskQueue]bool),
		wake:  make(chan struct{}, 1),
	}
	r.cond = sync.NewCond(&r.mu)
	if maxParallel > 0 {
		r.sem = make(chan struct{}, maxParallel)
	}
	return r
}

// NewQueue creates a TaskQueue owned by this runner.
func (r *Runner) NewQueue(name string) *TaskQueue {
	return &TaskQueue{name: name, runner: r}
}

// coordinate runs the scheduling loop; it is started lazily by the
// first scheduled task and runs until Close.
func (r *Runner) coordinate() {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		if r.readyQueues.Len() == 0 {
			r.mu.Unlock()
			<-r.wake
			continue
		}
		now := r.clock.NowNanos()
		next := r.readyQueues[0]
		if next.nextDue > now {
			wait := time.Duration(next.nextDue - now)
			r.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-r.wake:
				timer.Stop()
			}
			continue
		}
		q := heap.Pop(&r.readyQueues).(*TaskQueue)
		r.busy[q] = true
		tk := q.popDue(now)
		r.mu.Unlock()

		if tk == nil {
			r.mu.Lock()
			delete(r.busy, q)
			r.mu.Unlock()
			continue
		}
		r.runTask(q, tk)
	}
}

func (r *Runner) runTask(q *TaskQueue, tk *Task) {
	run := func() {
		delay := tk.runOnceSafely()
		r.mu.Lock()
		delete(r.busy, q)
		if delay >= 0 && !tk.cancelled() {
			q.reschedule(tk, r.clock.NowNanos()+int64(delay))
		} else {
			q.clearActive(tk)
		}
		q.maybeEnqueue(&r.readyQueues)
		r.mu.Unlock()
		r.signal()
	}
	if r.sem != nil {
		r.sem <- struct{}{}
		go func() { defer func() { <-r.sem }(); run() }()
	} else {
		go run()
	}
}

func (r *Runner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) ensureStarted() {
	r.mu.Lock()
	started := r.started
	r.started = true
	r.mu.Unlock()
	if !started {
		go r.coordinate()
	}
}

// Close stops the coordinator; queues already scheduled are abandoned.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.signal()
}

type queueHeap []*TaskQueue

func (h queueHeap) Len() int            { return len(h) }
func (h queueHeap) Less(i, j int) bool   { return h[i].nextDue < h[j].nextDue }
func (h queueHeap) Swap(i, j int)        { h[i], h[j] = h[j], h[i]; h[i].heapIdx = i; h[j].heapIdx = j }
func (h *queueHeap) Push(x interface{}) {
	q := x.(*TaskQueue)
	q.heapIdx = len(*h)
	*h = append(*h, q)
}
func (h *queueHeap) Pop() interface{} {
	old := *h
	n := len(old)
	q := old[n-1]
	old[n-1] = nil
	q.heapIdx = -1
	*h = old[:n-1]
	return q
}
