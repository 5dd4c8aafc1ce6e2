// Package capability resolves and caches session capabilities from a role
// policy, and decides which resource actions a session may perform.
package capability

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/console/model"
)

// Resolver caches the capability set of each session for ttl. Concurrent
// lookups for one session share a single evaluation. A ttl of zero
// disables caching.
type Resolver struct {
	evaluator model.PolicyEvaluator
	ttl       time.Duration
	inflight  singleflight.Group

	mu      sync.RWMutex
	entries map[string]resolved
}

type resolved struct {
	caps  model.CapabilitySet
	until time.Time
}

// NewResolver wraps evaluator with a per-session cache.
func NewResolver(evaluator model.PolicyEvaluator, ttl time.Duration) *Resolver {
	return &Resolver{
		evaluator: evaluator,
		ttl:       ttl,
		entries:   make(map[string]resolved),
	}
}

// Resolve returns the capabilities of sctx.
func (r *Resolver) Resolve(sctx *model.SessionContext) (model.CapabilitySet, error) {
	if caps, ok := r.cached(sctx.SessionID); ok {
		return caps, nil
	}

	v, err, _ := r.inflight.Do(sctx.SessionID, func() (any, error) {
		caps, err := r.evaluator.ResolveCapabilities(sctx)
		if err != nil {
			return nil, err
		}
		if r.ttl > 0 {
			r.mu.Lock()
			r.entries[sctx.SessionID] = resolved{caps: caps, until: time.Now().Add(r.ttl)}
			r.mu.Unlock()
		}
		return caps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(model.CapabilitySet), nil
}

func (r *Resolver) cached(sessionID string) (model.CapabilitySet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok || !time.Now().Before(e.until) {
		return nil, false
	}
	return e.caps, true
}

// Invalidate drops the cached set of one session, e.g. on sign-out.
func (r *Resolver) Invalidate(sessionID string) {
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()
}

// InvalidateAll drops every cached set after a policy reload.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	clear(r.entries)
	r.mu.Unlock()
}
