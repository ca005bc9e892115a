package session

import (
	"sync"
	"time"

	"collabhub/internal/clock"
)

// debouncer runs at most one save loop per room. The loop sleeps delay, then
// saves if no edit arrived in the last delay, otherwise sleeps again.
type debouncer struct {
	clock clock.Clock
	delay time.Duration
	save  func()

	mu       sync.Mutex
	lastEdit time.Time
	running  bool
	stop     chan struct{}
}

func newDebouncer(c clock.Clock, delay time.Duration, save func()) *debouncer {
	return &debouncer{clock: c, delay: delay, save: save}
}

// Touch records an edit and starts the loop if none is running.
func (d *debouncer) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastEdit = d.clock.Now()
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	go d.loop(d.stop)
}

// Stop cancels a pending loop. It reports whether one was running.
func (d *debouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return false
	}
	d.running = false
	close(d.stop)
	return true
}

func (d *debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *debouncer) loop(stop chan struct{}) {
	for {
		timer := d.clock.NewTimer(d.delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C():
		}

		d.mu.Lock()
		select {
		case <-stop:
			d.mu.Unlock()
			return
		default:
		}
		if d.clock.Now().Sub(d.lastEdit) < d.delay {
			d.mu.Unlock()
			continue
		}
		d.running = false
		d.mu.Unlock()

		d.save()
		return
	}
}
