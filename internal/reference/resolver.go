package reference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/console/model"
)

// Loader fetches the display label of one record.
type Loader interface {
	LoadLabel(ctx context.Context, sctx *model.SessionContext, resource, id string) (string, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, sctx *model.SessionContext, resource, id string) (string, error)

// LoadLabel calls f.
func (f LoaderFunc) LoadLabel(ctx context.Context, sctx *model.SessionContext, resource, id string) (string, error) {
	return f(ctx, sctx, resource, id)
}

// Resolver turns Unresolved references into labels through the cache,
// fetching misses in the background. Concurrent fetches of the same id are
// collapsed into one backend call.
type Resolver struct {
	cache   *Cache
	loader  Loader
	timeout time.Duration
	logger  *zap.Logger

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewResolver creates a resolver over cache. timeout bounds each fetch.
func NewResolver(cache *Cache, loader Loader, timeout time.Duration, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cache:   cache,
		loader:  loader,
		timeout: timeout,
		logger:  logger,
	}
}

// Cache returns the underlying cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Text returns the display text for ref. A Resolved reference seeds the
// cache and shows its own label. An Unresolved id that is not cached yet
// shows the placeholder and starts a background fetch bound to ctx;
// onSettled runs once that fetch has stored a label or pinned the unknown
// label. onSettled may be nil.
func (r *Resolver) Text(
	ctx context.Context,
	sctx *model.SessionContext,
	resource string,
	ref model.Reference,
	onSettled func(),
) string {
	if ref.Resolved {
		if ref.ID != "" {
			r.cache.Put(resource, ref.ID, ref.Label)
		}
		return ref.Label
	}

	text, state := r.cache.Text(resource, ref.ID)
	if state != Missing {
		return text
	}
	if !r.cache.markPending(resource, ref.ID) {
		// Lost a race with another caller; whatever it stored wins.
		text, _ = r.cache.Text(resource, ref.ID)
		return text
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.fetch(ctx, sctx, resource, ref.ID); err != nil && ctx.Err() != nil {
			return
		}
		if onSettled != nil {
			onSettled()
		}
	}()
	return text
}

// Resolve returns the label of resource/id, fetching it synchronously on a
// miss. Failed ids return the unknown label and no error.
func (r *Resolver) Resolve(ctx context.Context, sctx *model.SessionContext, resource, id string) (string, error) {
	text, state := r.cache.Text(resource, id)
	switch state {
	case Known, Failed:
		return text, nil
	}
	label, err := r.fetch(ctx, sctx, resource, id)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		text, _ = r.cache.Text(resource, id)
		return text, nil
	}
	return label, nil
}

// Wait blocks until all background fetches have finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) fetch(ctx context.Context, sctx *model.SessionContext, resource, id string) (string, error) {
	v, err, _ := r.group.Do(cacheKey(resource, id), func() (any, error) {
		fctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		label, err := r.loader.LoadLabel(fctx, sctx, resource, id)
		if err != nil {
			if ctx.Err() != nil {
				// The owner went away; leave the id unresolved for the next screen.
				r.cache.forget(resource, id)
				return "", err
			}
			r.logger.Warn("reference lookup failed",
				zap.String("resource", resource),
				zap.String("id", id),
				zap.Error(err),
			)
			r.cache.Fail(resource, id)
			return "", fmt.Errorf("reference %s/%s: %w", resource, id, err)
		}
		r.cache.Put(resource, id, label)
		return label, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
