// Package timeutil puts wall time behind an interface.
//
// The frame loop paces itself with a Ticker and the journal, builder and
// health endpoint stamp with Now. Tests swap in MockClock and move time
// by hand.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of package time the sky code depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
}

// Ticker is a stoppable tick stream.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// MockClock only moves when Advance is called. Tickers created from it
// fire during Advance once their period has elapsed; each holds at most
// one pending tick, so a slow reader drops ticks like time.Ticker does.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*mockTicker
}

// NewMockClock returns a clock stopped at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Advance moves the clock forward by d and fires due tickers.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	live := c.tickers[:0]
	for _, t := range c.tickers {
		if !t.isStopped() {
			live = append(live, t)
		}
	}
	c.tickers = live
	tickers := append([]*mockTicker(nil), live...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.fireIfDue(now)
	}
}

// Tickers reports how many unstopped tickers the clock is driving.
func (c *MockClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.isStopped() {
			n++
		}
	}
	return n
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive ticker period")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{ch: make(chan time.Time, 1), period: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	return t
}

type mockTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *mockTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *mockTicker) fireIfDue(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	t.next = now.Add(t.period)
}
