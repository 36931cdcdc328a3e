package telemetry

import "sync"

// LatestCache keeps the most recent Snapshot per device in memory.
// Puts replace the whole entry; the last writer wins.
type LatestCache struct {
	mu      sync.RWMutex
	entries map[string]Snapshot
}

// NewLatestCache creates an empty cache.
func NewLatestCache() *LatestCache {
	return &LatestCache{entries: make(map[string]Snapshot)}
}

// Put stores snap under its device name.
func (c *LatestCache) Put(snap Snapshot) {
	c.mu.Lock()
	c.entries[snap.Device] = snap
	c.mu.Unlock()
}

// Get returns the snapshot for device, if any.
func (c *LatestCache) Get(device string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[device]
	return snap, ok
}

// Len returns the number of cached devices.
func (c *LatestCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
