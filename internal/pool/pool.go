/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package pool implements the connection pool: idle/active bookkeeping,
// keep-alive eviction, connection coalescing, and per-address policies
// with a minimum-concurrent-calls floor (spec §4.6/§4.7).
package pool

import (
	"sync"
	"time"

	"github.com/badu/httpcore/internal/route"
	"github.com/badu/httpcore/internal/task"
)

// Conn is the subset of a pooled connection the pool itself needs to
// manage; H1/H2 exchange codecs wrap the concrete net.Conn separately.
type Conn interface {
	Address() *route.Address
	NoNewExchanges() bool
	AllocationLimit() int
	CallCount() int
	IdleSince() time.Time
	Close() error
}

// AddressPolicy tunes pool behavior for one address: a floor of
// connections to keep open regardless of idleness, maintained by a
// dedicated opener task (spec §3, supplemented per pack example
// 5457e1d6_BumpyClock-hermes__pkg-resource-connection_pool.go's
// floor-maintaining background goroutine).
type AddressPolicy struct {
	MinimumConcurrentCalls int
	MaxIdleConnections     int
	KeepAlive              time.Duration

	openerOnce  sync.Once
	openerQueue *task.TaskQueue
	openerTask  *task.Task
}

// Pool is the process-wide connection pool, one per Client.
type Pool struct {
	mu        sync.Mutex
	conns     []Conn
	idleSince map[Conn]time.Time
	maxIdle   int
	keepAlive time.Duration
	policies  map[string]*AddressPolicy // keyed by address identity

	runner       *task.Runner
	cleanupQueue *task.TaskQueue
	cleanupTask  *task.Task

	// Opener is invoked by a policy's floor-maintaining task to create a
	// fresh connection for addr; nil disables floor maintenance.
	Opener func(addr *route.Address) (Conn, error)
}

// NewPool returns an empty Pool with the given defaults. Cleanup and,
// once SetPolicy installs a floor, per-address opening both run on
// runner's task scheduler (spec §5 "the connection pool's cleanup,
// per-address openers ... run on the task scheduler").
func NewPool(maxIdle int, keepAlive time.Duration, runner *task.Runner) *Pool {
	p := &Pool{
		idleSince: make(map[Conn]time.Time),
		maxIdle:   maxIdle,
		keepAlive: keepAlive,
		policies:  make(map[string]*AddressPolicy),
		runner:    runner,
	}
	if keepAlive > 0 && runner != nil {
		p.cleanupQueue = runner.NewQueue("pool-cleanup")
		interval := keepAlive / 4
		p.cleanupTask = p.cleanupQueue.Repeat("cleanup", interval, true, func() time.Duration {
			p.runCleanup()
			return interval
		})
	}
	return p
}

// Acquire iterates pooled connections under each one's own
// eligibility check and returns one that is not marked noNewExchanges,
// has capacity (allocationLimit > callCount), and is eligible for addr
// by identity or coalescing (spec §4.6 "acquirePooled").
func (p *Pool) Acquire(addr *route.Address) (Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		if c.NoNewExchanges() {
			continue
		}
		if c.AllocationLimit() <= c.CallCount() {
			continue
		}
		if !eligible(c.Address(), addr) {
			continue
		}
		delete(p.idleSince, c)
		return c, true
	}
	return nil, false
}

// AcquireAny satisfies route.PoolAcquirer: the route package only needs
// to know whether a coalescable connection exists, not its concrete
// Conn type, so results are boxed as interface{}.
func (p *Pool) AcquireAny(addr *route.Address) (interface{}, bool) {
	c, ok := p.Acquire(addr)
	if !ok {
		return nil, false
	}
	return c, true
}

// eligible reports whether a pooled connection's address can serve a
// request to addr, either because they are the same address or
// because they coalesce (spec §3).
func eligible(pooled, addr *route.Address) bool {
	return pooled.Equivalent(addr)
}

// Put adds a freshly established connection to the pool.
func (p *Pool) Put(c Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = append(p.conns, c)
}

// Release marks c idle, recording the time for the keep-alive evictor.
func (p *Pool) Release(c Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idleSince[c] = time.Now()
}

// Evict removes c from the pool (connection failed or was explicitly
// closed).
func (p *Pool) Evict(c Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(c)
}

func (p *Pool) removeLocked(c Conn) {
	for i, existing := range p.conns {
		if existing == c {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			break
		}
	}
	delete(p.idleSince, c)
}

// Size reports the number of connections currently held, for test and
// metrics purposes.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// runCleanup closes connections idle longer than keepAlive, or evicts
// the oldest idle connection once the pool exceeds maxIdle, mirroring
// the teacher's closeConnIfStillIdle / idleLRU eviction cycle
// (tport/persist_conn.go). Invoked by the cleanup TaskQueue.
func (p *Pool) runCleanup() {
	p.mu.Lock()
	now := time.Now()
	var toClose []Conn
	for c, since := range p.idleSince {
		if now.Sub(since) > p.keepAlive {
			toClose = append(toClose, c)
			delete(p.idleSince, c)
		}
	}
	for len(p.idleSince) > 0 && p.maxIdle > 0 && len(p.conns)-len(toClose) > p.maxIdle {
		oldest, oldestAt := (Conn)(nil), time.Time{}
		for c, since := range p.idleSince {
			if oldest == nil || since.Before(oldestAt) {
				oldest, oldestAt = c, since
			}
		}
		if oldest == nil {
			break
		}
		toClose = append(toClose, oldest)
		delete(p.idleSince, oldest)
	}
	for _, c := range toClose {
		p.removeLocked(c)
	}
	p.mu.Unlock()
	for _, c := range toClose {
		c.Close()
	}
}

// Shutdown stops the eviction task and any running address-policy
// openers.
func (p *Pool) Shutdown() {
	if p.cleanupTask != nil {
		p.cleanupTask.Cancel()
	}
	p.mu.Lock()
	for _, policy := range p.policies {
		if policy.openerTask != nil {
			policy.openerTask.Cancel()
		}
	}
	p.mu.Unlock()
}

// SetPolicy installs an AddressPolicy for addr's identity and, if it
// names a MinimumConcurrentCalls floor, starts the dedicated opener
// task that keeps that many connections alive (spec §5, §3).
func (p *Pool) SetPolicy(key string, addr *route.Address, policy *AddressPolicy) {
	p.mu.Lock()
	p.policies[key] = policy
	p.mu.Unlock()
	if policy.MinimumConcurrentCalls > 0 && p.Opener != nil && p.runner != nil {
		policy.openerOnce.Do(func() {
			policy.openerQueue = p.runner.NewQueue("pool-opener:" + key)
			policy.openerTask = policy.openerQueue.Repeat("maintain-floor", time.Second, true, func() time.Duration {
				if p.countFor(addr) < policy.MinimumConcurrentCalls {
					c, err := p.Opener(addr)
					if err == nil {
						p.Put(c)
					}
				}
				return time.Second
			})
		})
	}
}

func (p *Pool) countFor(addr *route.Address) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.conns {
		if c.Address().Equivalent(addr) {
			n++
		}
	}
	return n
}
