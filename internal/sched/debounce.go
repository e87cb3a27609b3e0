// Package sched provides the small scheduling primitives the engine's
// debounce and poll sites share: a cancelable debounced task and a
// fixed-delay retry timer.
package sched

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of Trigger calls into one run of fn after
// a quiet period. The zero value is not usable; use NewDebouncer.
type Debouncer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	stopped bool
}

// NewDebouncer creates a debouncer that runs fn delay after the most
// recent Trigger.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger arms (or re-arms) the timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
		return
	}
	d.timer.Reset(d.delay)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.pending || d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	// Run outside the lock so fn may Trigger again.
	d.fn()
}

// Cancel drops any pending run without executing it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Flush runs the pending task immediately, if any.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if !d.pending || d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.fn()
}

// Stop cancels any pending run and refuses further triggers. Used on
// component teardown.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
}

// After runs fn once after delay and returns a cancel function. It is
// the single-shot form used by the fill-retry and fill-settle sites.
func After(delay time.Duration, fn func()) (cancel func()) {
	timer := time.AfterFunc(delay, fn)
	return func() { timer.Stop() }
}
