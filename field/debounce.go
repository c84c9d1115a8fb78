// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package field

import (
	"sync"
	"time"
)

// Debouncer owns the pending debounce timers for an orchestrator instance,
// keyed by field name. At most one timer exists per key: scheduling cancels
// any prior timer for the same key before arming the new one.
type Debouncer struct {
	mtx    sync.Mutex
	timers map[string]*time.Timer
}

// NewDebouncer creates an empty Debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{timers: make(map[string]*time.Timer)}
}

// Schedule arms fn to run after delay, replacing any pending timer for key.
// fn runs on its own goroutine.
func (d *Debouncer) Schedule(key string, delay time.Duration, fn func()) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(delay, fn)
}

// Cancel stops any pending timer for key.
func (d *Debouncer) Cancel(key string) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// CancelAll stops every pending timer.
func (d *Debouncer) CancelAll() {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
