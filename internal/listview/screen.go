// Package listview runs the list screens of the console: an in-memory
// collection per screen, debounced search with an optional facet, a clamped
// page window, a confirmation gate for destructive actions and mutations
// that patch the collection only after the backend confirmed them.
package listview

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/console/internal/backend"
	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/internal/observability"
	"github.com/pitabwire/console/internal/reference"
	"github.com/pitabwire/console/model"
)

// Repository is the backend surface of one resource.
type Repository interface {
	List(ctx context.Context, sctx *model.SessionContext, withDeleted bool) ([]model.Entity, error)
	Create(ctx context.Context, sctx *model.SessionContext, sub model.Submission) (model.Entity, error)
	Update(ctx context.Context, sctx *model.SessionContext, id string, sub model.Submission) (model.Entity, error)
	UpdateStatus(ctx context.Context, sctx *model.SessionContext, id, status string) (model.Entity, error)
	Delete(ctx context.Context, sctx *model.SessionContext, id string) error
	Restore(ctx context.Context, sctx *model.SessionContext, id string) error
	PermanentDelete(ctx context.Context, sctx *model.SessionContext, id string) error
}

// Options are the timing and paging settings of a screen.
type Options struct {
	PageSizes        []int
	DefaultPageSize  int
	SearchDebounce   time.Duration
	PageChangeDelay  time.Duration
	StatusSuccessTTL time.Duration
	StatusErrorTTL   time.Duration
	MutationErrorTTL time.Duration
	FetchTimeout     time.Duration
}

// OptionsFromConfig converts the listview configuration section.
func OptionsFromConfig(cfg config.ListViewConfig) Options {
	return Options{
		PageSizes:        cfg.PageSizes,
		DefaultPageSize:  cfg.DefaultPageSize,
		SearchDebounce:   cfg.SearchDebounce,
		PageChangeDelay:  cfg.PageChangeDelay,
		StatusSuccessTTL: cfg.StatusSuccessTTL,
		StatusErrorTTL:   cfg.StatusErrorTTL,
		MutationErrorTTL: cfg.MutationErrorTTL,
		FetchTimeout:     cfg.FetchTimeout,
	}
}

// Deps are the collaborators of a screen. Only Repo is required.
type Deps struct {
	Repo     Repository
	Resolver *reference.Resolver
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// Screen is one mounted list screen. All methods are safe for concurrent
// use. Backend calls run without the screen lock held, and results that
// arrive after Close or after a newer Reload are dropped.
type Screen struct {
	id      string
	def     *model.ResourceDefinition
	view    string
	sctx    *model.SessionContext
	opts    Options
	repo    Repository
	adapter *reference.Adapter
	metrics *observability.Metrics
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	debouncer *Debouncer
	flags     *StatusFlags
	gate      Gate

	mu           sync.Mutex
	state        model.ScreenState
	transient    bool // Error state clears with the banner
	closed       bool
	store        *Store
	filter       Filter
	typed        string
	window       *Window
	visible      []model.Entity
	banner       *model.Banner
	bannerSeq    uint64
	bannerTimer  *time.Timer
	loadingUntil time.Time
	loadingTimer *time.Timer
	generation   uint64
	version      uint64
	changed      chan struct{}
}

// NewScreen mounts a screen for def in view. parent bounds the screen's
// lifetime, normally the session's context. The screen starts in Loading;
// call Reload to fetch.
func NewScreen(
	parent context.Context,
	sctx *model.SessionContext,
	def *model.ResourceDefinition,
	view string,
	opts Options,
	deps Deps,
) (*Screen, error) {
	switch view {
	case model.ViewActive:
	case model.ViewRecycleBin:
		if !def.RecycleBin {
			return nil, model.NewBadRequestError(fmt.Sprintf("%s has no recycle bin", def.Title))
		}
	default:
		return nil, model.NewBadRequestError(fmt.Sprintf("unknown view %q", view))
	}
	if deps.Repo == nil {
		return nil, fmt.Errorf("listview: repository is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	sizes := opts.PageSizes
	if len(def.PageSizes) > 0 {
		sizes = def.PageSizes
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Screen{
		id:        uuid.NewString(),
		def:       def,
		view:      view,
		sctx:      sctx,
		opts:      opts,
		repo:      deps.Repo,
		adapter:   reference.NewAdapter(def, deps.Resolver),
		metrics:   deps.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		debouncer: NewDebouncer(opts.SearchDebounce),
		state:     model.ScreenLoading,
		store:     NewStore(def.EffectiveIDField()),
		window:    NewWindow(sizes, opts.DefaultPageSize),
		changed:   make(chan struct{}),
	}
	s.logger = deps.Logger.With(
		zap.String("screen_id", s.id),
		zap.String("resource", def.ID),
		zap.String("view", view),
	)
	s.flags = NewStatusFlags(s.notify)
	s.metrics.ScreenMounted(def.ID, 1)
	return s, nil
}

// ID returns the screen id.
func (s *Screen) ID() string { return s.id }

// Resource returns the resource id.
func (s *Screen) Resource() string { return s.def.ID }

// View returns the screen view.
func (s *Screen) View() string { return s.view }

// Definition returns the resource definition.
func (s *Screen) Definition() *model.ResourceDefinition { return s.def }

// Done is closed when the screen is closed or its parent is cancelled.
func (s *Screen) Done() <-chan struct{} { return s.ctx.Done() }

// State returns the current lifecycle state.
func (s *Screen) State() model.ScreenState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close unmounts the screen: in-flight work is cancelled and its results
// are discarded. Close is idempotent.
func (s *Screen) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimersLocked()
	s.bumpLocked()
	s.mu.Unlock()

	s.cancel()
	s.debouncer.Cancel()
	s.flags.Stop()
	s.metrics.ScreenMounted(s.def.ID, -1)
	s.logger.Info("screen closed")
}

// --- loading ---

// Reload fetches the collection. A reload started later supersedes this
// one: its result wins and this one's is dropped.
func (s *Screen) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosedLocked() {
		s.mu.Unlock()
		return model.NewScreenClosedError()
	}
	if s.state == model.ScreenMutating {
		s.mu.Unlock()
		return model.NewScreenNotReadyError("")
	}
	s.generation++
	gen := s.generation
	s.state = model.ScreenLoading
	s.transient = false
	s.clearBannerLocked()
	s.bumpLocked()
	s.mu.Unlock()

	ctx, span := s.startSpan(ctx, "listview.load")
	fctx, done := s.opContext(ctx)
	items, err := s.repo.List(fctx, s.sctx, s.view == model.ViewRecycleBin)
	done()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosedLocked() {
		observability.EndSpanWithError(span, nil)
		return model.NewScreenClosedError()
	}
	if gen != s.generation {
		// Superseded by a newer reload.
		observability.EndSpanWithError(span, nil)
		return nil
	}
	if err != nil {
		ee := backend.Normalize(err)
		s.state = model.ScreenError
		s.setBannerLocked(model.BannerError, ee.Code, ee.Message, 0)
		s.metrics.RecordScreenLoad(s.def.ID, s.view, "error", 0)
		s.logger.Warn("screen load failed", zap.String("code", ee.Code), zap.Error(err))
		s.bumpLocked()
		observability.EndSpanWithError(span, err)
		return ee
	}

	s.store.Replace(s.partition(items))
	s.state = model.ScreenReady
	s.refilterLocked()
	s.window.Clamp(len(s.visible))
	s.metrics.RecordScreenLoad(s.def.ID, s.view, "success", s.store.Len())
	s.logger.Debug("screen loaded", zap.Int("items", s.store.Len()))
	s.bumpLocked()
	observability.EndSpanWithError(span, nil)
	return nil
}

// partition keeps active records in the active view and soft-deleted
// records in the recycle bin.
func (s *Screen) partition(items []model.Entity) []model.Entity {
	field := s.def.EffectiveDeletedAtField()
	wantDeleted := s.view == model.ViewRecycleBin
	out := make([]model.Entity, 0, len(items))
	for _, e := range items {
		if e.IsDeleted(field) == wantDeleted {
			out = append(out, e)
		}
	}
	return out
}

// --- filtering and paging ---

// SetQuery records the typed search text. The filter is applied once typing
// pauses for the debounce window, or at once when immediate is set.
func (s *Screen) SetQuery(query string, immediate bool) error {
	s.mu.Lock()
	if s.isClosedLocked() {
		s.mu.Unlock()
		return model.NewScreenClosedError()
	}
	s.typed = query
	s.bumpLocked()
	s.mu.Unlock()

	if immediate {
		s.debouncer.Cancel()
		s.applyTyped()
		return nil
	}
	s.debouncer.Trigger(s.applyTyped)
	return nil
}

func (s *Screen) applyTyped() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosedLocked() || s.filter.Query == s.typed {
		return
	}
	s.filter.Query = s.typed
	s.window.Reset()
	s.refilterLocked()
	s.logger.Debug("search applied", zap.String("query", s.typed), zap.Int("matches", len(s.visible)))
	s.bumpLocked()
}

// SetFacet applies a facet value at once. An empty value clears it.
// Changing the facet starts a new search: the query and any pending typed
// text are dropped.
func (s *Screen) SetFacet(value string) error {
	if value != "" {
		if s.def.Facet == nil {
			return model.NewBadRequestError(fmt.Sprintf("%s has no filter", s.def.Title))
		}
		if !facetAllows(s.def.Facet, value) {
			return model.NewValidationError([]model.FieldError{{
				Field:   "facet",
				Code:    "INVALID_ENUM",
				Message: fmt.Sprintf("%q is not a valid %s", value, strings.ToLower(s.def.Facet.Label)),
			}})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosedLocked() {
		return model.NewScreenClosedError()
	}
	if s.filter.Facet == value {
		return nil
	}
	s.debouncer.Cancel()
	s.filter = Filter{Facet: value}
	s.typed = ""
	s.window.Reset()
	s.refilterLocked()
	s.bumpLocked()
	return nil
}

func facetAllows(f *model.FacetDefinition, value string) bool {
	if len(f.Options) == 0 {
		return true
	}
	for _, opt := range f.Options {
		if strings.EqualFold(opt.Value, value) {
			return true
		}
	}
	return false
}

// SetPage moves to page p. Out-of-range pages are ignored.
func (s *Screen) SetPage(p int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosedLocked() {
		return model.NewScreenClosedError()
	}
	if p == s.window.Page() || !s.window.SetPage(p, len(s.visible)) {
		return nil
	}
	s.startPageIndicatorLocked()
	s.bumpLocked()
	return nil
}

// SetPageSize changes the page size and returns to page 1.
func (s *Screen) SetPageSize(size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosedLocked() {
		return model.NewScreenClosedError()
	}
	if size == s.window.Size() {
		return nil
	}
	if err := s.window.SetSize(size); err != nil {
		return model.NewValidationError([]model.FieldError{{
			Field:   "page_size",
			Code:    "INVALID_ENUM",
			Message: err.Error(),
		}})
	}
	s.startPageIndicatorLocked()
	s.bumpLocked()
	return nil
}

// startPageIndicatorLocked raises the short loading indicator shown on page
// changes. The page itself is already in place.
func (s *Screen) startPageIndicatorLocked() {
	if s.opts.PageChangeDelay <= 0 {
		return
	}
	s.loadingUntil = time.Now().Add(s.opts.PageChangeDelay)
	if s.loadingTimer != nil {
		s.loadingTimer.Stop()
	}
	s.loadingTimer = time.AfterFunc(s.opts.PageChangeDelay, s.notify)
}

func (s *Screen) refilterLocked() {
	s.visible = Apply(s.store.All(), s.def, s.filter)
	s.window.Clamp(len(s.visible))
}

// --- mutations ---

// Create adds a record. The collection gains the record once the backend
// confirms; if the backend does not echo it back, the screen reloads.
func (s *Screen) Create(ctx context.Context, sub model.Submission) error {
	if s.view != model.ViewActive {
		return model.NewBadRequestError("Records can only be created from the active list")
	}
	if missing := sub.MissingFields(s.def.RequiredFields); len(missing) > 0 {
		return s.reject(model.ActionCreate, model.NewValidationError(missing))
	}
	if err := s.beginMutation(nil); err != nil {
		return err
	}

	ctx, span := s.startSpan(ctx, "listview.create")
	start := time.Now()
	mctx, done := s.opContext(ctx)
	created, err := s.repo.Create(mctx, s.sctx, sub)
	done()

	reload := false
	err = s.finishMutation(model.ActionCreate, "", start, err, "Record created", func() {
		if created != nil && created.ID(s.def.EffectiveIDField()) != "" {
			s.store.Append(created)
			return
		}
		reload = true
	})
	observability.EndSpanWithError(span, err)
	if err == nil && reload {
		return s.Reload(ctx)
	}
	return err
}

// Update replaces the fields of record id. Required fields may be omitted
// when the record already has them.
func (s *Screen) Update(ctx context.Context, id string, sub model.Submission) error {
	if s.view != model.ViewActive {
		return model.NewBadRequestError("Records can only be edited from the active list")
	}
	s.mu.Lock()
	existing, ok := s.store.Get(id)
	s.mu.Unlock()
	if !ok {
		return model.NewNotFoundError("The record is no longer in this list")
	}

	merged := existing.Clone()
	for k, v := range sub.Fields {
		merged[k] = v
	}
	if missing := (model.Submission{Fields: merged, Files: sub.Files}).MissingFields(s.def.RequiredFields); len(missing) > 0 {
		return s.reject(model.ActionUpdate, model.NewValidationError(missing))
	}
	if err := s.beginMutation(nil); err != nil {
		return err
	}

	ctx, span := s.startSpan(ctx, "listview.update", observability.AttrEntityID.String(id))
	start := time.Now()
	mctx, done := s.opContext(ctx)
	updated, err := s.repo.Update(mctx, s.sctx, id, sub)
	done()

	err = s.finishMutation(model.ActionUpdate, id, start, err, "Record updated", func() {
		next := merged
		if updated != nil {
			next = merged.Clone()
			for k, v := range updated {
				next[k] = v
			}
		}
		s.store.ReplaceByID(id, next)
	})
	observability.EndSpanWithError(span, err)
	return err
}

// UpdateStatus moves record id to status. The row carries a loading flag
// while the call runs, then a success or error flag that clears on its own.
// Status updates of different records run independently.
func (s *Screen) UpdateStatus(ctx context.Context, id, status string) error {
	sd := s.def.Status
	if sd == nil {
		return model.NewBadRequestError(fmt.Sprintf("%s has no status", s.def.Title))
	}
	if !sd.Allows(status) {
		return model.NewValidationError([]model.FieldError{{
			Field:   "status",
			Code:    "INVALID_ENUM",
			Message: fmt.Sprintf("%q is not a valid status", status),
		}})
	}

	s.mu.Lock()
	if s.isClosedLocked() {
		s.mu.Unlock()
		return model.NewScreenClosedError()
	}
	if s.state == model.ScreenLoading || (s.state == model.ScreenError && !s.transient) {
		s.mu.Unlock()
		return model.NewScreenNotReadyError("")
	}
	if _, ok := s.store.Get(id); !ok {
		s.mu.Unlock()
		return model.NewNotFoundError("The record is no longer in this list")
	}
	if !s.flags.Begin(id) {
		s.mu.Unlock()
		return model.NewConflictError("A status update for this record is already in progress")
	}
	s.bumpLocked()
	s.mu.Unlock()

	ctx, span := s.startSpan(ctx, "listview.status", observability.AttrEntityID.String(id))
	start := time.Now()
	mctx, done := s.opContext(ctx)
	updated, err := s.repo.UpdateStatus(mctx, s.sctx, id, status)
	done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosedLocked() {
		observability.EndSpanWithError(span, nil)
		return model.NewScreenClosedError()
	}
	if err != nil {
		ee := backend.Normalize(err)
		s.flags.Fail(id, ee.Message, s.opts.StatusErrorTTL)
		s.setBannerLocked(model.BannerError, ee.Code, ee.Message, s.opts.MutationErrorTTL)
		s.metrics.RecordMutation(s.def.ID, model.ActionStatus, "failure", time.Since(start))
		s.logger.Warn("status update failed", zap.String("entity_id", id), zap.String("code", ee.Code))
		s.bumpLocked()
		observability.EndSpanWithError(span, err)
		return ee
	}

	if cur, ok := s.store.Get(id); ok {
		next := cur.Clone()
		field := sd.Field
		if field == "" {
			field = "status"
		}
		next[field] = status
		for k, v := range updated {
			next[k] = v
		}
		s.store.ReplaceByID(id, next)
		s.refilterLocked()
	}
	s.flags.Succeed(id, s.opts.StatusSuccessTTL)
	s.metrics.RecordMutation(s.def.ID, model.ActionStatus, "success", time.Since(start))
	s.logger.Info("status updated", zap.String("entity_id", id), zap.String("status", status))
	s.bumpLocked()
	observability.EndSpanWithError(span, nil)
	return nil
}

// RequestDelete asks for confirmation before soft-deleting id.
func (s *Screen) RequestDelete(id string) (model.ConfirmationRequest, error) {
	return s.request(model.ActionDelete, id)
}

// RequestRestore asks for confirmation before restoring id.
func (s *Screen) RequestRestore(id string) (model.ConfirmationRequest, error) {
	return s.request(model.ActionRestore, id)
}

// RequestPermanentDelete asks for confirmation before purging id.
func (s *Screen) RequestPermanentDelete(id string) (model.ConfirmationRequest, error) {
	return s.request(model.ActionPermanentDelete, id)
}

func (s *Screen) request(action, id string) (model.ConfirmationRequest, error) {
	wantView := model.ViewRecycleBin
	if action == model.ActionDelete {
		wantView = model.ViewActive
	}
	if s.view != wantView {
		return model.ConfirmationRequest{}, model.NewBadRequestError(
			fmt.Sprintf("%s is not available in the %s view", strings.ReplaceAll(action, "_", " "), s.view))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosedLocked() {
		return model.ConfirmationRequest{}, model.NewScreenClosedError()
	}
	if s.state == model.ScreenLoading || (s.state == model.ScreenError && !s.transient) {
		return model.ConfirmationRequest{}, model.NewScreenNotReadyError("")
	}
	e, ok := s.store.Get(id)
	if !ok {
		return model.ConfirmationRequest{}, model.NewNotFoundError("The record is no longer in this list")
	}

	req := confirmationFor(s.def, action, id, e.Text(s.def.EffectiveLabelField()))
	if err := s.gate.Request(req); err != nil {
		s.metrics.RecordConfirmation(s.def.ID, action, "rejected")
		return model.ConfirmationRequest{}, err
	}
	s.metrics.RecordConfirmation(s.def.ID, action, "requested")
	s.bumpLocked()
	return req, nil
}

// Confirm runs the pending destructive action. While another mutation is in
// flight the request stays pending and Confirm fails with SCREEN_NOT_READY.
func (s *Screen) Confirm(ctx context.Context) error {
	var req model.ConfirmationRequest
	if err := s.beginMutation(func() error {
		r, ok := s.gate.Take()
		if !ok {
			return model.NewNoConfirmationError()
		}
		req = r
		return nil
	}); err != nil {
		return err
	}
	s.metrics.RecordConfirmation(s.def.ID, req.Action, "confirmed")

	ctx, span := s.startSpan(ctx, "listview.confirm",
		observability.AttrAction.String(req.Action),
		observability.AttrEntityID.String(req.TargetID),
	)
	start := time.Now()
	mctx, done := s.opContext(ctx)
	var err error
	switch req.Action {
	case model.ActionDelete:
		err = s.repo.Delete(mctx, s.sctx, req.TargetID)
	case model.ActionRestore:
		err = s.repo.Restore(mctx, s.sctx, req.TargetID)
	case model.ActionPermanentDelete:
		err = s.repo.PermanentDelete(mctx, s.sctx, req.TargetID)
	default:
		err = fmt.Errorf("listview: unknown action %q", req.Action)
	}
	done()

	err = s.finishMutation(req.Action, req.TargetID, start, err, successMessage(req.Action), func() {
		s.store.RemoveByID(req.TargetID)
	})
	observability.EndSpanWithError(span, err)
	return err
}

// Cancel discards the pending confirmation without side effects.
func (s *Screen) Cancel() error {
	req, ok := s.gate.Take()
	if !ok {
		return model.NewNoConfirmationError()
	}
	s.metrics.RecordConfirmation(s.def.ID, req.Action, "cancelled")
	s.notify()
	return nil
}

// Pending returns the confirmation request awaiting a decision, if any.
func (s *Screen) Pending() (model.ConfirmationRequest, bool) {
	return s.gate.Pending()
}

// DismissBanner hides the banner. A transient error state returns to Ready;
// a failed initial load stays in Error until reloaded.
func (s *Screen) DismissBanner() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.banner == nil {
		return
	}
	s.clearBannerLocked()
	if s.state == model.ScreenError && s.transient {
		s.state = model.ScreenReady
		s.transient = false
	}
	s.bumpLocked()
}

// beginMutation enters Mutating from Ready or a transient error. check, if
// non-nil, runs under the lock first and may veto.
func (s *Screen) beginMutation(check func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosedLocked() {
		return model.NewScreenClosedError()
	}
	switch {
	case s.state == model.ScreenReady:
	case s.state == model.ScreenError && s.transient:
	default:
		return model.NewScreenNotReadyError("")
	}
	if check != nil {
		if err := check(); err != nil {
			return err
		}
	}
	s.state = model.ScreenMutating
	s.transient = false
	s.clearBannerLocked()
	s.bumpLocked()
	return nil
}

// finishMutation leaves Mutating. On success apply patches the store; on
// failure the store is untouched and an error banner opens a transient
// Error state that ends with the banner.
func (s *Screen) finishMutation(action, id string, start time.Time, err error, success string, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosedLocked() {
		return model.NewScreenClosedError()
	}
	if err != nil {
		ee := backend.Normalize(err)
		s.state = model.ScreenError
		s.transient = true
		s.setBannerLocked(model.BannerError, ee.Code, ee.Message, s.opts.MutationErrorTTL)
		s.metrics.RecordMutation(s.def.ID, action, "failure", time.Since(start))
		s.logger.Warn("mutation failed",
			zap.String("action", action),
			zap.String("entity_id", id),
			zap.String("code", ee.Code),
			zap.Error(err),
		)
		s.bumpLocked()
		return ee
	}

	apply()
	s.state = model.ScreenReady
	s.refilterLocked()
	s.setBannerLocked(model.BannerSuccess, "", success, s.opts.StatusSuccessTTL)
	s.metrics.RecordMutation(s.def.ID, action, "success", time.Since(start))
	s.logger.Info("mutation completed", zap.String("action", action), zap.String("entity_id", id))
	s.bumpLocked()
	return nil
}

// reject reports a failure caught before any backend call.
func (s *Screen) reject(action string, ee *model.ErrorEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosedLocked() {
		return model.NewScreenClosedError()
	}
	s.setBannerLocked(model.BannerError, ee.Code, ee.Message, s.opts.MutationErrorTTL)
	s.metrics.RecordMutation(s.def.ID, action, "invalid", 0)
	s.bumpLocked()
	return ee
}

// --- banner ---

func (s *Screen) setBannerLocked(kind, code, msg string, ttl time.Duration) {
	s.clearBannerLocked()
	s.bannerSeq++
	b := &model.Banner{Kind: kind, Code: code, Message: msg}
	if ttl > 0 {
		b.Until = time.Now().Add(ttl)
		seq := s.bannerSeq
		s.bannerTimer = time.AfterFunc(ttl, func() { s.expireBanner(seq) })
	}
	s.banner = b
}

func (s *Screen) clearBannerLocked() {
	if s.bannerTimer != nil {
		s.bannerTimer.Stop()
		s.bannerTimer = nil
	}
	s.banner = nil
}

func (s *Screen) expireBanner(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.bannerSeq || s.closed {
		return
	}
	s.banner = nil
	s.bannerTimer = nil
	if s.state == model.ScreenError && s.transient {
		s.state = model.ScreenReady
		s.transient = false
	}
	s.bumpLocked()
}

func (s *Screen) stopTimersLocked() {
	s.clearBannerLocked()
	if s.loadingTimer != nil {
		s.loadingTimer.Stop()
		s.loadingTimer = nil
	}
}

// --- snapshot and change notification ---

// Snapshot renders the current page. Reference labels that are not cached
// yet show a placeholder and resolve in the background, bumping the
// version when they land.
func (s *Screen) Snapshot() model.ScreenSnapshot {
	s.mu.Lock()
	n := len(s.visible)
	start, end := s.window.Bounds(n)
	page := append([]model.Entity(nil), s.visible[start:end]...)

	snap := model.ScreenSnapshot{
		ScreenID: s.id,
		Version:  s.version,
		Resource: s.def.ID,
		View:     s.view,
		State:    s.state,
		Loading:  s.state == model.ScreenLoading || time.Now().Before(s.loadingUntil),
		Filter: model.FilterState{
			Query: s.filter.Query,
			Facet: s.filter.Facet,
		},
		Page: s.window.State(n),
	}
	if s.typed != s.filter.Query {
		snap.Filter.Pending = s.typed
	}
	if s.banner != nil {
		b := *s.banner
		snap.Banner = &b
	}
	if req, ok := s.gate.Pending(); ok {
		snap.Confirmation = &req
	}
	s.mu.Unlock()

	rows := s.adapter.Rows(s.ctx, s.sctx, page, s.notify)
	for i := range rows {
		if f, ok := s.flags.Get(rows[i].ID); ok {
			rows[i].Flag = &f
		}
	}
	snap.Rows = rows
	return snap
}

// Version returns the change counter of the screen.
func (s *Screen) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// WaitForChange blocks until the version moves past since, ctx ends or the
// screen closes, and returns the version at that point.
func (s *Screen) WaitForChange(ctx context.Context, since uint64) uint64 {
	s.mu.Lock()
	v, ch := s.version, s.changed
	s.mu.Unlock()
	if v > since {
		return v
	}
	select {
	case <-ch:
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
	return s.Version()
}

// notify records a change that happened off the request path.
func (s *Screen) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumpLocked()
}

func (s *Screen) bumpLocked() {
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Screen) isClosedLocked() bool {
	return s.closed || s.ctx.Err() != nil
}

// opContext derives the context of a backend call: values and deadline
// budget from the request, cancellation from the screen.
func (s *Screen) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.opts.FetchTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	stop := context.AfterFunc(s.ctx, cancel)
	return octx, func() {
		stop()
		cancel()
	}
}

func (s *Screen) startSpan(ctx context.Context, name string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{
		observability.AttrResource.String(s.def.ID),
		observability.AttrView.String(s.view),
		observability.AttrScreenID.String(s.id),
	}, extra...)
	return observability.StartSpan(ctx, name, attrs...)
}

func confirmationFor(def *model.ResourceDefinition, action, id, label string) model.ConfirmationRequest {
	var cd *model.ConfirmationDefinition
	switch action {
	case model.ActionDelete:
		cd = def.Confirmations.Delete
	case model.ActionRestore:
		cd = def.Confirmations.Restore
	case model.ActionPermanentDelete:
		cd = def.Confirmations.PermanentDelete
	}
	d := defaultConfirmation(action)
	if cd != nil {
		if cd.Title != "" {
			d.Title = cd.Title
		}
		if cd.Message != "" {
			d.Message = cd.Message
		}
		if cd.Confirm != "" {
			d.Confirm = cd.Confirm
		}
		if cd.Cancel != "" {
			d.Cancel = cd.Cancel
		}
		if cd.Style != "" {
			d.Style = cd.Style
		}
	}
	if label == "" {
		label = "this record"
	}
	return model.ConfirmationRequest{
		ID:       uuid.NewString(),
		Action:   action,
		TargetID: id,
		Title:    d.Title,
		Message:  strings.ReplaceAll(d.Message, "{label}", label),
		Confirm:  d.Confirm,
		Cancel:   d.Cancel,
		Style:    d.Style,
	}
}

func defaultConfirmation(action string) model.ConfirmationDefinition {
	switch action {
	case model.ActionRestore:
		return model.ConfirmationDefinition{
			Title:   "Restore record",
			Message: "Restore {label}?",
			Confirm: "Restore",
			Cancel:  "Cancel",
		}
	case model.ActionPermanentDelete:
		return model.ConfirmationDefinition{
			Title:   "Delete permanently",
			Message: "Permanently delete {label}? This cannot be undone.",
			Confirm: "Delete forever",
			Cancel:  "Cancel",
			Style:   "danger",
		}
	default:
		return model.ConfirmationDefinition{
			Title:   "Delete record",
			Message: "Move {label} to the recycle bin?",
			Confirm: "Delete",
			Cancel:  "Cancel",
			Style:   "danger",
		}
	}
}

func successMessage(action string) string {
	switch action {
	case model.ActionRestore:
		return "Record restored"
	case model.ActionPermanentDelete:
		return "Record permanently deleted"
	default:
		return "Record deleted"
	}
}
