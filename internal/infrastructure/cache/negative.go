package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// Default lifetimes of negative entries per kind.
const (
	DefaultRUCInvalidTTL = 24 * time.Hour
	DefaultDNIInvalidTTL = 24 * time.Hour
)

// NegativeTTLs maps each kind to its default lifetime.
type NegativeTTLs map[gateway.NegativeKind]time.Duration

// DefaultNegativeTTLs returns the built-in lifetimes.
func DefaultNegativeTTLs() NegativeTTLs {
	return NegativeTTLs{
		gateway.KindRUCInvalid: DefaultRUCInvalidTTL,
		gateway.KindDNIInvalid: DefaultDNIInvalidTTL,
	}
}

func (t NegativeTTLs) forKind(kind gateway.NegativeKind) time.Duration {
	if ttl, ok := t[kind]; ok && ttl > 0 {
		return ttl
	}
	return DefaultRUCInvalidTTL
}

func negativeKey(service gateway.ServiceType, kind gateway.NegativeKind, document string) string {
	return fmt.Sprintf("%s:%s:%s", service, kind, document)
}

// MemoryNegativeCache is the in-process negative cache.
type MemoryNegativeCache struct {
	items *ttlcache.Cache[string, gateway.NegativeEntry]
	ttls  NegativeTTLs
	now   func() time.Time

	mu      sync.Mutex
	running bool
}

var _ gateway.NegativeCache = (*MemoryNegativeCache)(nil)

// NewMemoryNegativeCache builds a cache. Missing kinds in ttls use the defaults.
func NewMemoryNegativeCache(ttls NegativeTTLs) *MemoryNegativeCache {
	merged := DefaultNegativeTTLs()
	for kind, ttl := range ttls {
		if ttl > 0 {
			merged[kind] = ttl
		}
	}

	return &MemoryNegativeCache{
		items: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, gateway.NegativeEntry](),
		),
		ttls: merged,
		now:  time.Now,
	}
}

// Start runs the background expiry loop until Close. Calling it twice is a no-op.
func (c *MemoryNegativeCache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	go c.items.Start()
}

// Close stops the expiry loop started by Start.
func (c *MemoryNegativeCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.items.Stop()
}

// Get misses on expired entries and drops them on the way out.
func (c *MemoryNegativeCache) Get(_ context.Context, service gateway.ServiceType, kind gateway.NegativeKind, document string) (gateway.NegativeEntry, bool) {
	key := negativeKey(service, kind, document)
	item := c.items.Get(key)
	if item == nil || item.IsExpired() {
		c.items.Delete(key)
		return gateway.NegativeEntry{}, false
	}
	return item.Value(), true
}

func (c *MemoryNegativeCache) Set(_ context.Context, service gateway.ServiceType, kind gateway.NegativeKind, document, reason string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttls.forKind(kind)
	}
	entry := gateway.NegativeEntry{Reason: reason, InsertedAt: c.now().UTC()}
	c.items.Set(negativeKey(service, kind, document), entry, ttl)
}

func (c *MemoryNegativeCache) Invalidate(_ context.Context, service gateway.ServiceType, kind gateway.NegativeKind, document string) {
	c.items.Delete(negativeKey(service, kind, document))
}

func (c *MemoryNegativeCache) Clear(_ context.Context) {
	c.items.DeleteAll()
}

// Len reports the number of live entries.
func (c *MemoryNegativeCache) Len() int {
	return c.items.Len()
}

// Purge removes expired entries.
func (c *MemoryNegativeCache) Purge() {
	c.items.DeleteExpired()
}

var (
	sharedMu       sync.Mutex
	sharedNegative *MemoryNegativeCache
)

// SharedNegativeCache returns the process-wide in-memory negative cache.
func SharedNegativeCache() *MemoryNegativeCache {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedNegative == nil {
		sharedNegative = NewMemoryNegativeCache(nil)
	}
	return sharedNegative
}

// ConfigureSharedNegativeCache replaces the process-wide cache with one using ttls.
// The previous instance is closed.
func ConfigureSharedNegativeCache(ttls NegativeTTLs) *MemoryNegativeCache {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedNegative != nil {
		sharedNegative.Close()
	}
	sharedNegative = NewMemoryNegativeCache(ttls)
	return sharedNegative
}

// ResetSharedNegativeCache empties the process-wide cache. Tests use it between cases.
func ResetSharedNegativeCache() {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedNegative != nil {
		sharedNegative.items.DeleteAll()
	}
}
