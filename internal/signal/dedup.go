package signal

import (
	"sync"
	"time"
)

// dedupSet remembers signal ids for a bounded window so a replayed id is
// rejected instead of re-executed.
type dedupSet struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func newDedupSet(window time.Duration) *dedupSet {
	if window <= 0 {
		window = time.Hour
	}
	return &dedupSet{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Claim records id and reports whether it was fresh. The first caller wins;
// concurrent claims of the same id see exactly one true.
func (d *dedupSet) Claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[id]; ok && now.Sub(at) < d.window {
		return false
	}
	d.seen[id] = now
	return true
}

// Release forgets id, used when ingestion fails after the claim so the caller
// may legitimately retry the same id.
func (d *dedupSet) Release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

// Sweep evicts entries older than the window and returns how many were removed.
func (d *dedupSet) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-d.window)
	removed := 0
	for id, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// Len reports the current number of tracked ids.
func (d *dedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
