package fsadapter

import (
	"sync"

	"mdsync/internal/mdsync"
)

// Cache keeps one Adapter per vault so repeated operations reuse the same
// handle traversal root. Entries must be cleared when a vault's git state
// is reset.
type Cache struct {
	mu       sync.Mutex
	clock    mdsync.Clock
	adapters map[string]*Adapter
}

func NewCache(clock mdsync.Clock) *Cache {
	return &Cache{clock: clock, adapters: make(map[string]*Adapter)}
}

// Get returns the cached adapter for vaultID, creating it from root.
func (c *Cache) Get(vaultID string, root mdsync.DirHandle) *Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a, ok := c.adapters[vaultID]; ok && a.root == root {
		return a
	}
	a := New(root, c.clock)
	c.adapters[vaultID] = a
	return a
}

// Clear drops the adapter for vaultID.
func (c *Cache) Clear(vaultID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.adapters, vaultID)
}

// Len returns the number of cached adapters.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.adapters)
}
