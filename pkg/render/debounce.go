package render

import (
	"sync"
	"time"

	"github.com/Fepozopo/maskedit/pkg/logging"
)

// Debouncer saves the most recent value once no newer value has arrived for
// the configured delay. Saves never run concurrently and never write an
// older value after a newer one.
type Debouncer struct {
	delay time.Duration
	save  func(string) error

	mu      sync.Mutex
	timer   *time.Timer
	pending string
	dirty   bool
	gen     uint64

	saveMu sync.Mutex
}

func NewDebouncer(delay time.Duration, save func(string) error) *Debouncer {
	return &Debouncer{delay: delay, save: save}
}

// Submit records v and restarts the quiet period.
func (d *Debouncer) Submit(v string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending, d.dirty = v, true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	d.mu.Lock()
	if gen != d.gen || !d.dirty {
		d.mu.Unlock()
		return
	}
	v := d.pending
	d.dirty = false
	d.mu.Unlock()
	if err := d.save(v); err != nil {
		logging.Logger().Warn("persist edit state failed", "err", err)
	}
}

// Flush saves a pending value immediately.
func (d *Debouncer) Flush() error {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	if !d.dirty {
		d.mu.Unlock()
		return nil
	}
	v := d.pending
	d.dirty = false
	d.mu.Unlock()
	return d.save(v)
}
