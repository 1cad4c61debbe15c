package runtime

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const DefaultDedupeTTL = time.Minute

// DedupeWindow remembers message identifiers with their insertion time.
// It is read and pruned from several loops, hence the mutex.
type DedupeWindow struct {
	mu    sync.Mutex
	clock clock.Clock
	ttl   time.Duration
	seen  map[uuid.UUID]time.Time
}

func NewDedupeWindow(clk clock.Clock, ttl time.Duration) *DedupeWindow {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &DedupeWindow{clock: clk, ttl: ttl, seen: make(map[uuid.UUID]time.Time)}
}

// Observe records id and reports whether it is seen for the first time
// within the window.
func (d *DedupeWindow) Observe(id uuid.UUID) bool {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if at, ok := d.seen[id]; ok && now.Sub(at) <= d.ttl {
		return false
	}
	d.seen[id] = now
	return true
}

// Prune drops identifiers older than the window and returns how many went.
func (d *DedupeWindow) Prune() int {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	pruned := 0
	for id, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, id)
			pruned++
		}
	}
	return pruned
}

func (d *DedupeWindow) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.seen)
}

func (d *DedupeWindow) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
