package reference

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/console/model"
)

// OptionsSource lists every selectable record of a resource as a
// value/label pair.
type OptionsSource interface {
	ListOptions(ctx context.Context, sctx *model.SessionContext, resource string) ([]model.OptionDescriptor, error)
}

// Options serves picker options for reference fields, e.g. the categories a
// product can be filed under. Lists are cached per resource for ttl and
// filtered by query on every call.
type Options struct {
	source     OptionsSource
	ttl        time.Duration
	maxEntries int

	mu    sync.RWMutex
	cache map[string]optionsEntry
}

type optionsEntry struct {
	options   []model.OptionDescriptor
	expiresAt time.Time
}

// NewOptions creates an options provider over source.
func NewOptions(source OptionsSource, ttl time.Duration, maxEntries int) *Options {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &Options{
		source:     source,
		ttl:        ttl,
		maxEntries: maxEntries,
		cache:      make(map[string]optionsEntry),
	}
}

// List returns the options of resource whose label contains query, ignoring
// case. The second result reports whether the list came from the cache.
func (o *Options) List(ctx context.Context, sctx *model.SessionContext, resource, query string) ([]model.OptionDescriptor, bool, error) {
	if options, hit := o.get(resource); hit {
		return filterOptions(options, query), true, nil
	}

	options, err := o.source.ListOptions(ctx, sctx, resource)
	if err != nil {
		return nil, false, fmt.Errorf("options of %q: %w", resource, err)
	}
	o.put(resource, options)
	return filterOptions(options, query), false, nil
}

// Invalidate drops the cached list of resource so the next call refetches.
func (o *Options) Invalidate(resource string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cache, resource)
}

// Len returns the number of cached lists.
func (o *Options) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.cache)
}

func (o *Options) get(resource string) ([]model.OptionDescriptor, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	e, ok := o.cache[resource]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.options, true
}

func (o *Options) put(resource string, options []model.OptionDescriptor) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.cache) >= o.maxEntries {
		o.evictExpired()
		if len(o.cache) >= o.maxEntries {
			return
		}
	}
	o.cache[resource] = optionsEntry{
		options:   options,
		expiresAt: time.Now().Add(o.ttl),
	}
}

// evictExpired must be called with mu held.
func (o *Options) evictExpired() {
	now := time.Now()
	for k, e := range o.cache {
		if now.After(e.expiresAt) {
			delete(o.cache, k)
		}
	}
}

func filterOptions(options []model.OptionDescriptor, query string) []model.OptionDescriptor {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return options
	}
	filtered := make([]model.OptionDescriptor, 0, len(options))
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.Label), q) {
			filtered = append(filtered, opt)
		}
	}
	return filtered
}
