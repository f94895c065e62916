// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects Real(); tests inject Fake() and advance time
// deterministically.
//
// Every production function that needs time.Now, time.After,
// time.AfterFunc, time.NewTicker, or time.Sleep accepts a Clock (or
// is a method on a struct holding one) instead of calling the time
// package directly. The runner's wall-clock budgets and stop grace
// periods, and aetherd's retention sweeper, are all driven through
// this interface so their timing behavior is testable without real
// waiting.
package clock

import "time"

// Clock is the time source interface.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for d, then calls f in its own goroutine (real
	// clock) or synchronously during Advance (fake clock). The
	// returned Timer can cancel the pending call.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on its C channel every d. Panics if
	// d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Timer is a scheduled one-shot event. For AfterFunc timers, C is nil.
type Timer struct {
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the timer from firing. Returns true if the call
// stopped the timer, false if it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers periodic ticks on C. The channel has capacity 1;
// a slow consumer drops ticks rather than queueing them.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }
