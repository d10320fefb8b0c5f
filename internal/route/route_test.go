package route

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestHappyEyeballsInterleave(t *testing.T) {
	ips := []net.IP{
		net.ParseIP("192.0.2.1"),
		net.ParseIP("192.0.2.2"),
		net.ParseIP("2001:db8::1"),
	}
	got := happyEyeballsInterleave(ips)
	if len(got) != 3 {
		t.Fatalf("got %d ips, want 3", len(got))
	}
	if got[0].To4() != nil {
		t.Fatalf("first result %v should be IPv6 to cover both families early", got[0])
	}
}

func TestRouteSelectorDirectLiteralIP(t *testing.T) {
	addr := &Address{Scheme: "https", Host: "192.0.2.5", Port: 443}
	sel := NewRouteSelector(addr)
	if !sel.HasNext() {
		t.Fatal("expected at least one route")
	}
	r, err := sel.Next(nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.IP.String() != "192.0.2.5" {
		t.Fatalf("ip = %v, want 192.0.2.5", r.IP)
	}
}

func TestRouteSelectorPostponeIsLIFO(t *testing.T) {
	addr := &Address{Scheme: "https", Host: "192.0.2.5", Port: 443}
	sel := NewRouteSelector(addr)
	// Drain the single literal-IP route the DIRECT proxy expands to, so
	// the only candidates left come from the postponed stack.
	if _, err := sel.Next(nil); err != nil {
		t.Fatal(err)
	}

	r1 := Route{Address: addr, IP: net.ParseIP("10.0.0.1")}
	r2 := Route{Address: addr, IP: net.ParseIP("10.0.0.2")}
	sel.Postpone(r1)
	sel.Postpone(r2)
	got, err := sel.Next(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IP.Equal(r2.IP) {
		t.Fatalf("got %v, want most-recently-postponed %v first", got.IP, r2.IP)
	}
}

type fakePool struct{ conns map[string]interface{} }

func (f *fakePool) AcquireAny(addr *Address) (interface{}, bool) {
	c, ok := f.conns[addr.Host]
	return c, ok
}

func TestPlannerPrefersCallConnThenPool(t *testing.T) {
	addr := &Address{Scheme: "https", Host: "192.0.2.9", Port: 443}
	pool := &fakePool{conns: map[string]interface{}{"192.0.2.9": "pooled-conn"}}
	p := NewPlanner(addr, pool)
	p.CallConn = "call-conn"

	plan, err := p.Plan(nil)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Reused != "call-conn" {
		t.Fatalf("plan.Reused = %v, want call-conn", plan.Reused)
	}

	plan, err = p.Plan(nil)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Reused != "pooled-conn" {
		t.Fatalf("plan.Reused = %v, want pooled-conn", plan.Reused)
	}
}

// TestFinderRacingDefersUnusedRoutes covers spec §8 scenario 5: when a
// later-launched racing connect wins, the still-in-flight route must
// be handed to the Planner's deferred queue (not dropped) so a later
// Plan() call can reuse it without re-resolving DNS or re-racing.
func TestFinderRacingDefersUnusedRoutes(t *testing.T) {
	orig := fallbackDelay
	fallbackDelay = 10 * time.Millisecond
	defer func() { fallbackDelay = orig }()

	slowIP := net.ParseIP("10.0.0.1")
	fastIP := net.ParseIP("10.0.0.2")
	addr := &Address{
		Scheme:       "https",
		Host:         "race.test",
		Port:         443,
		FastFallback: true,
		Lookup: func(ctx context.Context, host string) ([]net.IP, error) {
			return []net.IP{slowIP, fastIP}, nil
		},
	}
	pool := &fakePool{conns: map[string]interface{}{}}
	planner := NewPlanner(addr, pool)
	finder := NewFinder(planner, func(ctx context.Context, r Route) (interface{}, error) {
		if r.IP.Equal(slowIP) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "fast-conn", nil
	})

	conn, err := finder.Find(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	if conn != "fast-conn" {
		t.Fatalf("conn = %v, want fast-conn (the racing winner)", conn)
	}

	plan, err := planner.Plan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if plan.Reused != nil {
		t.Fatalf("plan.Reused = %v, want the deferred slow route, not a reuse", plan.Reused)
	}
	if !plan.Route.IP.Equal(slowIP) {
		t.Fatalf("plan.Route.IP = %v, want the deferred %v", plan.Route.IP, slowIP)
	}
}
