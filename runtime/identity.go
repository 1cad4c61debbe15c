package runtime

import (
	"sync"
	"time"
)

// identity is the local user name plus the name it retired last, which is
// ignored on the wire for a short grace window after a rename.
type identity struct {
	mu        sync.RWMutex
	name      string
	retired   string
	retiredAt time.Time
}

func newIdentity(name string) *identity {
	return &identity{name: name}
}

func (i *identity) Name() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.name
}

func (i *identity) rename(newName string, at time.Time) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	old := i.name
	i.name = newName
	i.retired = old
	i.retiredAt = at
	return old
}

// ignores reports whether traffic attributed to name is our own, either under
// the current name or the one retired less than grace ago.
func (i *identity) ignores(name string, now time.Time, grace time.Duration) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if name == i.name {
		return true
	}
	return i.retired != "" && name == i.retired && now.Sub(i.retiredAt) < grace
}
