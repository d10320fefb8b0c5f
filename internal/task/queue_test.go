package task

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually-advanced Clock for deterministic tests.
type fakeClock struct {
	mu      sync.Mutex
	now     int64
	waiters []waiter
}

type waiter struct {
	at int64
	f  func()
}

func newFakeClock() *fakeClock { return &fakeClock{} }

func (c *fakeClock) NowNanos() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) func() {
	c.mu.Lock()
	c.waiters = append(c.waiters, waiter{at: c.now + int64(d), f: f})
	c.mu.Unlock()
	return func() {}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += int64(d)
	due := c.waiters[:0]
	var fire []func()
	for _, w := range c.waiters {
		if w.at <= c.now {
			fire = append(fire, w.f)
		} else {
			due = append(due, w)
		}
	}
	c.waiters = due
	c.mu.Unlock()
	for _, f := range fire {
		f()
	}
}

func TestExecuteOneShot(t *testing.T) {
	r := NewRunner(RealClock, 4)
	defer r.Close()
	q := r.NewQueue("test")
	done := make(chan struct{})
	q.Execute("once", 0, false, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestScheduleEarlierWins(t *testing.T) {
	r := NewRunner(RealClock, 4)
	defer r.Close()
	q := r.NewQueue("test")
	var mu sync.Mutex
	var ran int
	tk := &Task{Name: "t", run: func() time.Duration {
		mu.Lock()
		ran++
		mu.Unlock()
		return -1
	}}
	q.Schedule(tk, 500*time.Millisecond)
	q.Schedule(tk, 10*time.Millisecond) // should win: earlier time kept
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}
}

func TestCancelAllDropsCancelable(t *testing.T) {
	r := NewRunner(RealClock, 4)
	defer r.Close()
	q := r.NewQueue("test")
	ranCh := make(chan struct{}, 1)
	t1 := &Task{Name: "keep", Cancelable: false, run: func() time.Duration {
		ranCh <- struct{}{}
		return -1
	}}
	t2 := &Task{Name: "drop", Cancelable: true, run: func() time.Duration {
		t.Fatal("cancelable task should not run")
		return -1
	}}
	q.Schedule(t1, time.Hour)
	q.Schedule(t2, time.Hour)
	q.CancelAll()
	if !t2.cancelled() {
		t.Fatal("t2 should be cancelled")
	}
}

func TestIdleLatchClosesWhenEmpty(t *testing.T) {
	r := NewRunner(RealClock, 4)
	defer r.Close()
	q := r.NewQueue("test")
	select {
	case <-q.IdleLatch():
	default:
		t.Fatal("expected already-idle queue to close latch immediately")
	}
}

func TestShutdownRejectsNonCancelable(t *testing.T) {
	r := NewRunner(RealClock, 4)
	defer r.Close()
	q := r.NewQueue("test")
	q.Shutdown()
	t1 := &Task{Name: "x", Cancelable: false, run: func() time.Duration { return -1 }}
	if err := q.Schedule(t1, 0); err != ErrRejectedExecution {
		t.Fatalf("err = %v, want ErrRejectedExecution", err)
	}
	t2 := &Task{Name: "y", Cancelable: true, run: func() time.Duration { return -1 }}
	if err := q.Schedule(t2, 0); err != nil {
		t.Fatalf("cancelable schedule on shutdown queue should succeed silently, got %v", err)
	}
}
