package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/internal/definition"
	"github.com/pitabwire/console/internal/listview"
	"github.com/pitabwire/console/internal/observability"
	"github.com/pitabwire/console/internal/reference"
	"github.com/pitabwire/console/model"
)

// RepositoryFactory returns the backend surface of a resource.
type RepositoryFactory func(def *model.ResourceDefinition) listview.Repository

// WorkspaceDeps are shared by every workspace of a process.
type WorkspaceDeps struct {
	Registry     *definition.Registry
	Repositories RepositoryFactory
	Labels       reference.Loader
	Options      reference.OptionsSource
	ListView     listview.Options
	References   config.ReferenceConfig
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

// Workspace is the in-process state of one session: its mounted screens
// and its reference label cache. Closing the workspace cancels every
// screen and pending label fetch.
type Workspace struct {
	sctx     *model.SessionContext
	deps     WorkspaceDeps
	resolver *reference.Resolver
	options  *reference.Options
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	screens map[string]*listview.Screen
}

func newWorkspace(sctx *model.SessionContext, deps WorkspaceDeps) *Workspace {
	ctx, cancel := context.WithCancel(context.Background())
	logger := deps.Logger.With(zap.String("session_id", sctx.SessionID))
	cache := reference.NewCache(deps.References, deps.Metrics)
	w := &Workspace{
		sctx:     sctx,
		deps:     deps,
		resolver: reference.NewResolver(cache, deps.Labels, deps.References.FetchTimeout, logger),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		screens:  make(map[string]*listview.Screen),
	}
	if deps.Options != nil {
		w.options = reference.NewOptions(deps.Options, deps.References.OptionsTTL, 0)
	}
	return w
}

// Session returns the session the workspace belongs to.
func (w *Workspace) Session() *model.SessionContext { return w.sctx }

// Resolver returns the session's reference resolver.
func (w *Workspace) Resolver() *reference.Resolver { return w.resolver }

// Done is closed when the workspace closes.
func (w *Workspace) Done() <-chan struct{} { return w.ctx.Done() }

// Mount creates a screen for resource in view. The screen starts in Loading;
// the caller triggers the first Reload.
func (w *Workspace) Mount(resource, view string) (*listview.Screen, error) {
	def, ok := w.deps.Registry.GetResource(resource)
	if !ok {
		return nil, model.NewNotFoundError("Unknown resource " + resource)
	}
	if w.ctx.Err() != nil {
		return nil, model.NewSessionExpiredError()
	}

	s, err := listview.NewScreen(w.ctx, w.sctx, &def, view, w.deps.ListView, listview.Deps{
		Repo:     w.deps.Repositories(&def),
		Resolver: w.resolver,
		Metrics:  w.deps.Metrics,
		Logger:   w.logger,
	})
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.screens[s.ID()] = s
	w.mu.Unlock()

	// Forget the screen once it closes, however it closes.
	go func() {
		<-s.Done()
		w.mu.Lock()
		delete(w.screens, s.ID())
		w.mu.Unlock()
	}()
	return s, nil
}

// Screen returns a mounted screen.
func (w *Workspace) Screen(id string) (*listview.Screen, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.screens[id]
	return s, ok
}

// Screens returns the mounted screens.
func (w *Workspace) Screens() []*listview.Screen {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*listview.Screen, 0, len(w.screens))
	for _, s := range w.screens {
		out = append(out, s)
	}
	return out
}

// Unmount closes a screen. Unknown ids are ignored.
func (w *Workspace) Unmount(id string) {
	w.mu.Lock()
	s, ok := w.screens[id]
	delete(w.screens, id)
	w.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Close unmounts every screen and cancels pending label fetches.
func (w *Workspace) Close() {
	w.mu.Lock()
	screens := make([]*listview.Screen, 0, len(w.screens))
	for id, s := range w.screens {
		screens = append(screens, s)
		delete(w.screens, id)
	}
	w.mu.Unlock()

	for _, s := range screens {
		s.Close()
	}
	w.cancel()
	w.logger.Debug("workspace closed", zap.Int("screens", len(screens)))
}

// Label returns the display text of a foreign id of resource. With wait the
// label is fetched before returning; otherwise a missing id shows the
// placeholder while a fetch bound to the workspace runs in the background.
// The returned reference is Resolved only when a real label is known.
func (w *Workspace) Label(ctx context.Context, resource, id string, wait bool) (model.Reference, error) {
	if wait {
		if _, err := w.resolver.Resolve(ctx, w.sctx, resource, id); err != nil {
			return model.Reference{}, err
		}
	} else {
		w.resolver.Text(w.ctx, w.sctx, resource, model.Unresolved(id), nil)
	}

	text, state := w.resolver.Cache().Text(resource, id)
	if state == reference.Known {
		return model.Resolved(id, text), nil
	}
	ref := model.Unresolved(id)
	ref.Label = text
	return ref, nil
}

// Options lists the picker options of resource filtered by query. Labels of
// listed records are seeded into the label cache so a freshly picked value
// renders without a fetch.
func (w *Workspace) Options(ctx context.Context, resource, query string) (model.OptionList, error) {
	if w.options == nil {
		return model.OptionList{}, model.NewNotFoundError("Options are not available for " + resource)
	}
	options, cached, err := w.options.List(ctx, w.sctx, resource, query)
	if err != nil {
		return model.OptionList{}, err
	}
	if !cached {
		for _, opt := range options {
			w.resolver.Cache().Seed(resource, opt.Value, opt.Label)
		}
	}
	return model.OptionList{Options: options, Cached: cached}, nil
}

// InvalidateOptions drops the cached picker options of resource.
func (w *Workspace) InvalidateOptions(resource string) {
	if w.options != nil {
		w.options.Invalidate(resource)
	}
}
