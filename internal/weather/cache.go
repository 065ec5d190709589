package weather

import (
	"bytes"
	"sync"
)

// ReadingCache holds the last normalized Conditions and the raw payload it
// came from. Only the owning Service writes to it; readers get copies.
type ReadingCache struct {
	mu      sync.RWMutex
	current *Conditions
	raw     []byte
}

// Load returns a copy of the cached Conditions.
func (c *ReadingCache) Load() (Conditions, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return Conditions{}, false
	}
	return c.current.Clone(), true
}

// Raw returns a copy of the payload behind the cached Conditions.
func (c *ReadingCache) Raw() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return bytes.Clone(c.raw)
}

func (c *ReadingCache) replace(cond Conditions, raw []byte) {
	cond = cond.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &cond
	c.raw = bytes.Clone(raw)
}

// markStale swaps the cached value for a stale copy; it does not mutate the
// value previously handed out.
func (c *ReadingCache) markStale() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || !c.current.SourceActive {
		return
	}
	stale := c.current.Stale()
	c.current = &stale
}

// seed stores cond only when nothing is cached yet, so it never overwrites a
// cycle that completed first. It reports whether it stored anything.
func (c *ReadingCache) seed(cond Conditions, raw []byte) bool {
	cond = cond.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return false
	}
	c.current = &cond
	c.raw = bytes.Clone(raw)
	return true
}
