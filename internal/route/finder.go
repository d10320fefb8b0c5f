/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package route

import (
	"context"
	"time"
)

// dialer abstracts TCP-connect-and-handshake so Finder does not need
// to know about H1/H2 exchange codecs; connect failures and successes
// are reported through the Route they were attempted on.
type Dialer func(ctx context.Context, r Route) (interface{}, error)

// fallbackDelay is the interval between successive racing connects
// when fast fallback is enabled (spec §4.6: "launching TCP connects
// every 250 ms"). A var, not a const, so tests can shrink it instead
// of actually waiting out the race.
var fallbackDelay = 250 * time.Millisecond

type result struct {
	route  Route
	ticket int // >= 0 for a dialed route still tracked in pending; -1 for a pool hit
	conn   interface{}
	err    error
}

// pending is a launched-but-not-yet-resolved dial, kept in launch
// order so routes still racing when another one wins can be handed
// back to the Planner's deferred queue in the same order they were
// started (spec §4.6 "preserve order").
type pending struct {
	ticket int
	route  Route
}

// Finder finds a connection by racing TCP connects across a
// RoutePlanner's routes. On pool hit it returns immediately; otherwise
// it launches connects every 250ms, tracks them in an in-flight set,
// and on the first success cancels the rest, moving their unused
// routes onto the Planner's deferredPlans for reuse (spec §4.6).
type Finder struct {
	planner *Planner
	dial    Dialer
}

// NewFinder returns a Finder racing connects produced by planner.
func NewFinder(planner *Planner, dial Dialer) *Finder {
	return &Finder{planner: planner, dial: dial}
}

// Find returns the first successfully connected route's connection.
// When the address disables fast fallback, it degenerates to the
// Sequential variant: try plans one at a time.
func (f *Finder) Find(ctx context.Context, addr *Address) (interface{}, error) {
	if !addr.FastFallback {
		return f.findSequential(ctx)
	}
	return f.findRacing(ctx)
}

func (f *Finder) findSequential(ctx context.Context) (interface{}, error) {
	var firstErr error
	for {
		plan, err := f.planner.Plan(ctx)
		if err != nil {
			if firstErr == nil {
				return nil, err
			}
			return nil, firstErr
		}
		if plan.Reused != nil {
			return plan.Reused, nil
		}
		c, err := f.dial(ctx, plan.Route)
		if err == nil {
			return c, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		f.planner.selector.Postpone(plan.Route)
	}
}

func (f *Finder) findRacing(ctx context.Context) (interface{}, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan result, 8)
	var inFlight []pending
	nextTicket := 0
	var firstErr error
	exhausted := false

	launch := func() bool {
		plan, err := f.planner.Plan(ctx)
		if err != nil {
			return false
		}
		if plan.Reused != nil {
			resultCh <- result{route: plan.Route, conn: plan.Reused, ticket: -1}
			return true
		}
		ticket := nextTicket
		nextTicket++
		inFlight = append(inFlight, pending{ticket: ticket, route: plan.Route})
		go func() {
			c, err := f.dial(ctx, plan.Route)
			resultCh <- result{route: plan.Route, ticket: ticket, conn: c, err: err}
		}()
		return true
	}

	// deferUnused hands every still-racing route back to the Planner's
	// deferred queue, in launch order, so a later Plan() call on this
	// or a coalesced call can reuse or race them again instead of
	// re-resolving DNS (spec §4.6/§4.7 "cancel the others and move
	// their un-used routes onto deferredPlans for reuse").
	deferUnused := func() {
		for i := len(inFlight) - 1; i >= 0; i-- {
			f.planner.PushDeferred(inFlight[i].route)
		}
		inFlight = nil
	}

	removePending := func(ticket int) {
		for i, p := range inFlight {
			if p.ticket == ticket {
				inFlight = append(inFlight[:i], inFlight[i+1:]...)
				return
			}
		}
	}

	if !launch() {
		return nil, errNoMoreRoutes
	}
	ticker := time.NewTicker(fallbackDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !exhausted && !launch() {
				exhausted = true
			}
		case res := <-resultCh:
			if res.ticket >= 0 {
				removePending(res.ticket)
			}
			if res.err == nil {
				cancel()
				deferUnused()
				return res.conn, nil
			}
			if firstErr == nil {
				firstErr = res.err
			} else {
				// additional failures are suppressed, matching spec
				// §4.6's "raising the first IOException with the rest
				// suppressed".
			}
			f.planner.selector.Postpone(res.route)
			if len(inFlight) == 0 && exhausted {
				return nil, firstErr
			}
			if len(inFlight) == 0 && !exhausted {
				if !launch() {
					exhausted = true
					if len(inFlight) == 0 {
						return nil, firstErr
					}
				}
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
