package notify

import (
	"sync"
	"time"
)

// DeDup remembers recently notified jobs in order to prevent repeated messages
// when a job gets filled again shortly after an applicant left.
// Nil and zero-window DeDup pass everything.
type DeDup struct {
	window time.Duration
	now    func() time.Time

	lock   sync.Mutex
	active map[string]time.Time
}

// NewDeDup creates DeDup keeping entries for window, 0 disables it
func NewDeDup(window time.Duration) *DeDup {
	return &DeDup{window: window, now: time.Now, active: make(map[string]time.Time)}
}

// Add registers the job id, fails if it was added within the window
func (d *DeDup) Add(id string) bool {
	if d == nil || d.window <= 0 {
		return true
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	now := d.now()
	for k, ts := range d.active {
		if now.Sub(ts) >= d.window {
			delete(d.active, k)
		}
	}
	if _, found := d.active[id]; found {
		return false
	}
	d.active[id] = now
	return true
}

// Remove drops the job id. Safe to call multiple times
func (d *DeDup) Remove(id string) {
	if d == nil || d.window <= 0 {
		return
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.active, id)
}
