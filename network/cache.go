package network

import (
	"context"
	"sync"
	"time"
)

// DefaultPeerCacheTTL is how long a resolved peer set is reused.
const DefaultPeerCacheTTL = 5 * time.Minute

// PeerCache holds one resolved peer set with its fetch time.
type PeerCache struct {
	value     []string
	fetchedAt time.Time
	ttl       time.Duration
}

// NewPeerCache returns an empty cache entry with the given ttl.
func NewPeerCache(ttl time.Duration) *PeerCache {
	return &PeerCache{ttl: ttl}
}

// Get returns the cached peers if they were set within ttl of now.
func (c *PeerCache) Get(now time.Time) ([]string, bool) {
	if c.fetchedAt.IsZero() || now.Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return append([]string(nil), c.value...), true
}

// Set stores peers fetched at now.
func (c *PeerCache) Set(peers []string, now time.Time) {
	c.value = append([]string(nil), peers...)
	c.fetchedAt = now
}

// Invalidate drops the cached value.
func (c *PeerCache) Invalidate() {
	c.value = nil
	c.fetchedAt = time.Time{}
}

// CachedCatalog reuses resolved peer sets per store for a ttl. Lookups with a
// blacklist always go to the underlying catalog, since they are made when the
// cached set has already failed; the cache entry is invalidated then.
type CachedCatalog struct {
	next PeerCatalog
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*PeerCache
}

var _ PeerCatalog = (*CachedCatalog)(nil)

// NewCachedCatalog wraps next with a per-store peer cache.
func NewCachedCatalog(next PeerCatalog, ttl time.Duration) *CachedCatalog {
	if ttl <= 0 {
		ttl = DefaultPeerCacheTTL
	}
	return &CachedCatalog{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*PeerCache),
	}
}

func (c *CachedCatalog) entry(storeID string) *PeerCache {
	e, ok := c.entries[storeID]
	if !ok {
		e = NewPeerCache(c.ttl)
		c.entries[storeID] = e
	}
	return e
}

// ResolvePeers serves from cache when no blacklist is given.
func (c *CachedCatalog) ResolvePeers(ctx context.Context, storeID string, sampleSize int, blacklist []string) ([]string, error) {
	if len(blacklist) == 0 {
		c.mu.Lock()
		peers, ok := c.entry(storeID).Get(c.now())
		c.mu.Unlock()
		if ok {
			return FilterPeers(peers, sampleSize, nil), nil
		}
	} else {
		c.Invalidate(storeID)
	}

	peers, err := c.next.ResolvePeers(ctx, storeID, sampleSize, blacklist)
	if err != nil {
		return nil, err
	}
	if len(blacklist) == 0 && len(peers) > 0 {
		c.mu.Lock()
		c.entry(storeID).Set(peers, c.now())
		c.mu.Unlock()
	}
	return peers, nil
}

// RootHistory is never cached.
func (c *CachedCatalog) RootHistory(ctx context.Context, storeID string) ([]RootRecord, error) {
	return c.next.RootHistory(ctx, storeID)
}

// Invalidate drops the cached peer set of storeID.
func (c *CachedCatalog) Invalidate(storeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[storeID]; ok {
		e.Invalidate()
	}
}
