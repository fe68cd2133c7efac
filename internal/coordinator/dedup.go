package coordinator

import (
	"sync"
	"time"
)

// dedup prevents a signal ID from being processed more than once within a
// time-to-live window. It is safe for concurrent use.
type dedup struct {
	seen map[string]time.Time // signal ID -> last seen
	ttl  time.Duration
	mu   sync.Mutex
}

func newDedup(ttl time.Duration) *dedup {
	return &dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// isDuplicate returns true if the signal ID has been seen within the TTL
// window; otherwise it records the ID and returns false.
func (d *dedup) isDuplicate(id string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.seen[id]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// cleanup removes expired entries; called periodically to bound memory.
func (d *dedup) cleanup(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
