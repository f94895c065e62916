// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called; pending timers, tickers, and sleeps
// fire when the clock advances past their deadline.
//
// FakeClock is safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests. AfterFunc callbacks
// run synchronously during Advance in deadline order; do not call
// Advance or Sleep from inside a callback.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	channel  chan time.Time // nil for AfterFunc waiters
	callback func()         // nil for channel waiters
	interval time.Duration  // non-zero for tickers
	stopped  bool
	fired    bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock advances past
// the deadline. If d <= 0 the channel receives immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.waiters = append(c.waiters, &waiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	c.changed.Broadcast()
	return channel
}

// AfterFunc schedules f to run during the Advance that crosses its
// deadline. If d <= 0, f runs synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()

	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	pending := &waiter{
		deadline: c.current.Add(d),
		callback: f,
	}
	c.waiters = append(c.waiters, pending)
	c.changed.Broadcast()
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if pending.stopped || pending.fired {
			return false
		}
		pending.stopped = true
		return true
	}}
}

// NewTicker delivers a tick on each interval boundary Advance crosses.
// Panics if d <= 0, matching time.NewTicker.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	pending := &waiter{
		deadline: c.current.Add(d),
		channel:  channel,
		interval: d,
	}
	c.waiters = append(c.waiters, pending)
	c.changed.Broadcast()

	return &Ticker{
		C: channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			pending.stopped = true
		},
	}
}

// Sleep blocks the calling goroutine until the clock advances past
// the deadline.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline is crossed, in deadline order. Tickers reschedule and may
// fire multiple times in one Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)

	for {
		next := c.earliestLocked(target)
		if next == nil {
			break
		}
		c.current = next.deadline
		c.fireLocked(next)
	}

	c.current = target
	c.compactLocked()
	c.mu.Unlock()
}

// BlockUntil waits until at least n waiters are registered. Tests use
// this to let background goroutines reach their timer before
// advancing the clock.
func (c *FakeClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.changed.Wait()
	}
}

// earliestLocked returns the unstopped, unfired waiter with the
// earliest deadline at or before target, or nil.
func (c *FakeClock) earliestLocked(target time.Time) *waiter {
	var earliest *waiter
	for _, pending := range c.waiters {
		if pending.stopped || pending.fired {
			continue
		}
		if pending.deadline.After(target) {
			continue
		}
		if earliest == nil || pending.deadline.Before(earliest.deadline) {
			earliest = pending
		}
	}
	return earliest
}

// fireLocked delivers one waiter. AfterFunc callbacks run without the
// lock so they can use the clock.
func (c *FakeClock) fireLocked(pending *waiter) {
	if pending.interval > 0 {
		select {
		case pending.channel <- c.current:
		default: // slow consumer, drop the tick
		}
		pending.deadline = pending.deadline.Add(pending.interval)
		return
	}

	pending.fired = true
	if pending.callback != nil {
		c.mu.Unlock()
		pending.callback()
		c.mu.Lock()
		return
	}
	pending.channel <- c.current
}

// compactLocked drops fired and stopped waiters, preserving order.
func (c *FakeClock) compactLocked() {
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	kept := c.waiters[:0]
	for _, pending := range c.waiters {
		if !pending.fired && !pending.stopped {
			kept = append(kept, pending)
		}
	}
	c.waiters = kept
}

func (c *FakeClock) activeLocked() int {
	count := 0
	for _, pending := range c.waiters {
		if !pending.fired && !pending.stopped {
			count++
		}
	}
	return count
}
