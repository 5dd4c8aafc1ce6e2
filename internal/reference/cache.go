// Package reference resolves foreign-key ids to display labels. Labels are
// cached per session without expiry: a resolved id keeps its label and a
// failed id keeps the unknown label until the session ends.
package reference

import (
	"sync"

	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/internal/observability"
)

// State is the resolution state of one cached id.
type State int

const (
	// Missing means the id was never requested.
	Missing State = iota
	// Pending means a fetch is in flight.
	Pending
	// Known means the label was resolved.
	Known
	// Failed means the fetch failed and the unknown label is pinned.
	Failed
)

type entry struct {
	label string
	state State
}

// Cache maps resource/id pairs to labels.
type Cache struct {
	placeholder string
	unknown     string
	maxEntries  int
	metrics     *observability.Metrics

	mu      sync.RWMutex
	entries map[string]entry
}

// NewCache creates an empty cache. metrics may be nil.
func NewCache(cfg config.ReferenceConfig, metrics *observability.Metrics) *Cache {
	c := &Cache{
		placeholder: cfg.Placeholder,
		unknown:     cfg.UnknownLabel,
		maxEntries:  cfg.MaxEntries,
		metrics:     metrics,
		entries:     make(map[string]entry),
	}
	if c.placeholder == "" {
		c.placeholder = "Loading…"
	}
	if c.unknown == "" {
		c.unknown = "Unknown"
	}
	if c.maxEntries <= 0 {
		c.maxEntries = 10000
	}
	return c
}

func cacheKey(resource, id string) string {
	return resource + "\x00" + id
}

// Text returns what should be displayed for resource/id right now along
// with its state. Missing and pending ids show the placeholder.
func (c *Cache) Text(resource, id string) (string, State) {
	c.mu.RLock()
	e, ok := c.entries[cacheKey(resource, id)]
	c.mu.RUnlock()

	if !ok {
		c.metrics.RecordReferenceCacheMiss(resource)
		return c.placeholder, Missing
	}
	switch e.state {
	case Known:
		c.metrics.RecordReferenceCacheHit(resource)
		return e.label, Known
	case Failed:
		c.metrics.RecordReferenceCacheHit(resource)
		return c.unknown, Failed
	default:
		return c.placeholder, Pending
	}
}

// Put stores a resolved label. Known labels are replaced, which lets an
// embedded label refresh a stale one.
func (c *Cache) Put(resource, id, label string) {
	c.set(resource, id, entry{label: label, state: Known})
}

// Seed stores a label only if resource/id has never been requested. Pinned
// failures and in-flight fetches are left alone.
func (c *Cache) Seed(resource, id, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(resource, id)
	if _, ok := c.entries[key]; ok || len(c.entries) >= c.maxEntries {
		return
	}
	c.entries[key] = entry{label: label, state: Known}
}

// Fail pins the unknown label for resource/id.
func (c *Cache) Fail(resource, id string) {
	c.metrics.RecordReferenceFailure(resource)
	c.set(resource, id, entry{state: Failed})
}

// markPending records an in-flight fetch. It returns false if the id is
// already pending, known or failed, in which case no fetch should start.
func (c *Cache) markPending(resource, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(resource, id)
	if _, ok := c.entries[key]; ok {
		return false
	}
	if len(c.entries) >= c.maxEntries {
		// Full: fetch anyway, the result just will not be kept.
		return true
	}
	c.entries[key] = entry{state: Pending}
	return true
}

// forget drops a pending entry so a later request fetches again.
func (c *Cache) forget(resource, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(resource, id)
	if e, ok := c.entries[key]; ok && e.state == Pending {
		delete(c.entries, key)
	}
}

func (c *Cache) set(resource, id string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(resource, id)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		return
	}
	c.entries[key] = e
}

// Placeholder returns the text shown while a label is pending.
func (c *Cache) Placeholder() string {
	return c.placeholder
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
