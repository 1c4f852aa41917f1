package draftdesk

import (
	"context"
	"sync"
	"time"

	"github.com/eringen/draftdesk/document"
)

type listKey struct {
	tab    string
	status document.Status
}

type listEntry struct {
	items   []document.Summary
	fetched time.Time
	gen     int
}

// ListCache is an in-memory cache of the collections each tab has viewed,
// keyed by tab and status, with TTL.
type ListCache struct {
	mu      sync.RWMutex
	entries map[listKey]*listEntry
	loading map[listKey]int // loads in flight per key
	ttl     time.Duration
	now     func() time.Time
}

// NewListCache creates an empty ListCache.
func NewListCache(ttl time.Duration) *ListCache {
	return &ListCache{
		entries: make(map[listKey]*listEntry),
		loading: make(map[listKey]int),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *ListCache) valid(e *listEntry) bool {
	return e != nil && e.items != nil && c.now().Sub(e.fetched) < c.ttl
}

// Get returns the cached collection if it is still fresh.
func (c *ListCache) Get(tab string, st document.Status) ([]document.Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e := c.entries[listKey{tab, st}]
	if !c.valid(e) {
		return nil, false
	}
	return e.items, true
}

// Invalidate drops one collection so the next read triggers a fresh load.
// A load already in flight for it will not be stored.
func (c *ListCache) Invalidate(tab string, st document.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := listKey{tab, st}
	e := c.entries[k]
	if e == nil {
		e = &listEntry{}
		c.entries[k] = e
	}
	e.items = nil
	e.gen++
}

// Forget drops every collection of tab. A collection with a load in flight
// is invalidated instead, so that load is not stored.
func (c *ListCache) Forget(tab string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if k.tab != tab {
			continue
		}
		if c.loading[k] > 0 {
			e.items = nil
			e.gen++
			continue
		}
		delete(c.entries, k)
	}
}

// Sweep removes expired or invalidated collections and returns how many it
// removed. Entries with a load in flight keep their generation until the
// load settles.
func (c *ListCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !c.valid(e) && c.loading[k] == 0 {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Load returns the cached collection, or runs fetch and caches what it
// returns. fetch reports false when its result must not be cached, such as
// after a failed request; Load then passes the result through and reports
// false too.
func (c *ListCache) Load(ctx context.Context, tab string, st document.Status,
	fetch func(context.Context) ([]document.Summary, bool)) ([]document.Summary, bool) {
	if items, ok := c.Get(tab, st); ok {
		return items, true
	}
	k := listKey{tab, st}

	c.mu.Lock()
	e := c.entries[k]
	if c.valid(e) {
		items := e.items
		c.mu.Unlock()
		return items, true
	}
	if e == nil {
		e = &listEntry{}
		c.entries[k] = e
	}
	gen := e.gen
	c.loading[k]++
	c.mu.Unlock()

	items, ok := fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading[k]--; c.loading[k] == 0 {
		delete(c.loading, k)
	}
	if !ok {
		return items, false
	}
	if items == nil {
		items = []document.Summary{}
	}
	if cur := c.entries[k]; cur != nil && cur.gen == gen {
		cur.items = items
		cur.fetched = c.now()
	}
	return items, true
}
