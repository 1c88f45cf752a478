package refresh_test

import (
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/school-dashboard/token/refresh"
)

// fakeClock only moves when a test advances it. Due callbacks run on the
// advancing goroutine, so everything they trigger has finished on return.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) refresh.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.stopped
	t.stopped = true
	return wasPending
}

// Advance moves the clock forward and runs every timer that came due
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	due := c.takeLocked(func(t *fakeTimer) bool { return !t.at.After(c.now) })
	c.mu.Unlock()
	run(due)
}

// FireNow runs every pending timer without moving the clock, like a timer
// that woke up early.
func (c *fakeClock) FireNow() {
	c.mu.Lock()
	due := c.takeLocked(func(*fakeTimer) bool { return true })
	c.mu.Unlock()
	run(due)
}

// Pending is the number of timers that have neither fired nor been stopped
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (c *fakeClock) takeLocked(match func(*fakeTimer) bool) []*fakeTimer {
	var due, rest []*fakeTimer
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case match(t):
			t.stopped = true
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	c.timers = rest
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	return due
}

func run(timers []*fakeTimer) {
	for _, t := range timers {
		t.f()
	}
}
