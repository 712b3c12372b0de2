package cache

import (
	"sync"
	"time"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

type snapshotEntry struct {
	snapshot  *gateway.Snapshot
	expiresAt time.Time
}

// SnapshotCache keeps loaded registry snapshots per service type with a TTL.
type SnapshotCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[gateway.ServiceType]snapshotEntry
}

// NewSnapshotCache creates a cache. A non-positive ttl disables caching.
func NewSnapshotCache(ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		ttl:     ttl,
		entries: make(map[gateway.ServiceType]snapshotEntry),
	}
}

// Get returns the snapshot for a service type if present and not expired.
func (c *SnapshotCache) Get(t gateway.ServiceType) (*gateway.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[t]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.snapshot, true
}

// Set stores a snapshot for the configured TTL.
func (c *SnapshotCache) Set(t gateway.ServiceType, snapshot *gateway.Snapshot) {
	if c.ttl <= 0 || snapshot == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[t] = snapshotEntry{snapshot: snapshot, expiresAt: time.Now().Add(c.ttl)}
}

// Invalidate drops the snapshot of one service type.
func (c *SnapshotCache) Invalidate(t gateway.ServiceType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, t)
}

// Clear drops every snapshot.
func (c *SnapshotCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[gateway.ServiceType]snapshotEntry)
}
