package store

import (
	"sync"
	"time"
)

// debouncer defers an action until a quiet period follows the last trigger
// (trailing edge). At most one timer is pending at a time.
type debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	timer   *time.Timer
	pending func()
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window}
}

// Debounce schedules fn after the window; rapid successive calls reset the
// timer so only the last fn runs.
func (d *debouncer) Debounce(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = fn
	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Cancel discards the pending action, if any.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}

// Flush runs the pending action now instead of waiting out the window.
func (d *debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	fn := d.pending
	d.pending = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}
