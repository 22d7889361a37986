// Package cache is a TTL-bounded in-process read accelerator for item
// lookups. It never serves writes, and every mutation path in the
// engine invalidates it synchronously; that invalidation must be
// in-process and immediate, which is why this is a plain mutex-guarded
// map rather than a networked cache — a network round-trip cannot give
// the same synchronous guarantee.
package cache

import (
	"sync"
	"time"

	"github.com/timour/reservation-engine/internal/metrics"
	"github.com/timour/reservation-engine/internal/model"
)

const itemsListKey = "items-list"

type entry struct {
	item      *model.Item
	list      []*model.Item
	expiresAt time.Time
}

// ItemCache exposes a GetItem/SetItem/GetItemsList/InvalidateItem
// surface backed by an in-process map with per-entry expiry.
type ItemCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics

	items map[string]entry
}

// New creates a cache with the given TTL for item entries. m may be
// nil, in which case hit/miss counters are skipped.
func New(ttl time.Duration, m *metrics.Metrics) *ItemCache {
	return &ItemCache{
		ttl:     ttl,
		now:     time.Now,
		metrics: m,
		items:   make(map[string]entry),
	}
}

func (c *ItemCache) record(kind string, hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues(kind).Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues(kind).Inc()
	}
}

// GetItem returns the cached item, or nil on a miss or expiry.
func (c *ItemCache) GetItem(id string) *model.Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[id]
	if !ok || c.now().After(e.expiresAt) {
		c.record("item", false)
		return nil
	}
	c.record("item", true)
	return e.item
}

// SetItem populates the cache for a single item.
func (c *ItemCache) SetItem(item *model.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *item
	c.items[item.ID] = entry{item: &cp, expiresAt: c.now().Add(c.ttl)}
}

// InvalidateItem removes a single item's cache entry.
func (c *ItemCache) InvalidateItem(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
}

// GetItemsList returns the cached item-list snapshot for the given sort
// key, or nil on a miss or expiry. The list cache is keyed by sort
// params since GET /items results differ by sortBy/sortOrder.
func (c *ItemCache) GetItemsList(sortKey string) []*model.Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[listEntryKey(sortKey)]
	if !ok || c.now().After(e.expiresAt) {
		c.record("list", false)
		return nil
	}
	c.record("list", true)
	return e.list
}

// SetItemsList populates the item-list cache for a sort key.
func (c *ItemCache) SetItemsList(sortKey string, items []*model.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := make([]*model.Item, len(items))
	copy(cp, items)
	c.items[listEntryKey(sortKey)] = entry{list: cp, expiresAt: c.now().Add(c.ttl)}
}

// SetNowFunc overrides the clock used for TTL expiry checks; tests use
// this to assert on expiry without sleeping.
func (c *ItemCache) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// InvalidateItemsList drops every cached item-list snapshot (all sort
// variants), since a stock mutation can change their ordering.
func (c *ItemCache) InvalidateItemsList() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if isListEntryKey(k) {
			delete(c.items, k)
		}
	}
}

func listEntryKey(sortKey string) string { return itemsListKey + ":" + sortKey }

func isListEntryKey(k string) bool {
	return len(k) >= len(itemsListKey) && k[:len(itemsListKey)] == itemsListKey
}
