/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package route

import (
	"context"
	"sync"
)

// Plan is the tagged-variant result of Planner.Plan: either a reused
// connection or a route to connect fresh (spec §9 "Plan ∈ {Connect,
// Reuse, Failed}").
type Plan struct {
	Reused interface{} // non-nil when an existing pooled connection was chosen
	Route  Route        // valid when Reused is nil
}

// PoolAcquirer is the subset of pool.Pool the Planner needs, kept as
// an interface here to avoid an import cycle between route and pool.
type PoolAcquirer interface {
	AcquireAny(addr *Address) (conn interface{}, ok bool)
}

// Planner returns a Plan by precedence (spec §4.6 RoutePlanner):
//  1. Reuse the calling exchange's already-assigned connection.
//  2. Reuse a connection already sitting in the pool.
//  3. Pop a deferred plan from a prior coalesced race.
//  4. Build a new route for the next candidate; once DNS results are
//     known, try the pool again (a coalescing opportunity).
type Planner struct {
	addr     *Address
	pool     PoolAcquirer
	selector *RouteSelector

	mu            sync.Mutex
	deferredPlans []Route

	// CallConn, when non-nil, is the connection the current call was
	// already assigned (precedence 1); cleared after first use.
	CallConn interface{}
}

// NewPlanner returns a Planner for addr, backed by pool and a fresh
// RouteSelector.
func NewPlanner(addr *Address, pool PoolAcquirer) *Planner {
	return &Planner{addr: addr, pool: pool, selector: NewRouteSelector(addr)}
}

// PushDeferred records a route abandoned mid-race by a Finder so a
// later Plan call can reuse it (spec §4.6).
func (p *Planner) PushDeferred(r Route) {
	p.mu.Lock()
	p.deferredPlans = append([]Route{r}, p.deferredPlans...)
	p.mu.Unlock()
}

func (p *Planner) Plan(ctx context.Context) (Plan, error) {
	if p.CallConn != nil {
		c := p.CallConn
		p.CallConn = nil
		return Plan{Reused: c}, nil
	}
	if c, ok := p.pool.AcquireAny(p.addr); ok {
		return Plan{Reused: c}, nil
	}
	p.mu.Lock()
	if len(p.deferredPlans) > 0 {
		r := p.deferredPlans[0]
		p.deferredPlans = p.deferredPlans[1:]
		p.mu.Unlock()
		return Plan{Route: r}, nil
	}
	p.mu.Unlock()

	r, err := p.selector.Next(ctx)
	if err != nil {
		return Plan{}, err
	}
	// DNS for this route is now resolved; a concurrent call may have
	// just populated the pool with a coalescable connection.
	if c, ok := p.pool.AcquireAny(p.addr); ok {
		p.selector.Postpone(r)
		return Plan{Reused: c}, nil
	}
	return Plan{Route: r}, nil
}
