// Package session owns the admin session lifecycle: login through the
// backend, persistence of the session record, expiry, and the per-session
// workspace of mounted screens and cached reference labels.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/console/internal/backend"
	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/internal/observability"
	"github.com/pitabwire/console/model"
)

// Authenticator exchanges credentials for a backend token.
type Authenticator interface {
	Login(ctx context.Context, creds backend.Credentials) (string, error)
}

// Invalidator drops per-session cached state kept elsewhere, e.g.
// resolved capabilities.
type Invalidator interface {
	Invalidate(sessionID string)
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records logins and live sessions.
func WithMetrics(m *observability.Metrics) Option {
	return func(mg *Manager) { mg.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(mg *Manager) { mg.logger = l }
}

// WithInvalidator registers state to drop on logout.
func WithInvalidator(inv Invalidator) Option {
	return func(mg *Manager) { mg.invalidators = append(mg.invalidators, inv) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(mg *Manager) { mg.now = now }
}

// Manager creates, validates and ends sessions.
type Manager struct {
	store        Store
	auth         Authenticator
	tokens       *TokenInspector
	ttl          time.Duration
	deps         WorkspaceDeps
	invalidators []Invalidator
	metrics      *observability.Metrics
	logger       *zap.Logger
	now          func() time.Time

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewManager creates a session manager.
func NewManager(
	cfg config.SessionConfig,
	store Store,
	auth Authenticator,
	tokens *TokenInspector,
	deps WorkspaceDeps,
	opts ...Option,
) *Manager {
	m := &Manager{
		store:      store,
		auth:       auth,
		tokens:     tokens,
		ttl:        cfg.TTL,
		deps:       deps,
		logger:     zap.NewNop(),
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.deps.Logger == nil {
		m.deps.Logger = m.logger
	}
	if m.deps.Metrics == nil {
		m.deps.Metrics = m.metrics
	}
	return m
}

// Store returns the session store.
func (m *Manager) Store() Store { return m.store }

// Login forwards creds to the backend and opens a session for the returned
// token. The session expires at the token's exp claim or after the
// configured TTL, whichever comes first.
func (m *Manager) Login(ctx context.Context, creds backend.Credentials) (*model.SessionContext, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	var missing []model.FieldError
	if creds.Email == "" {
		missing = append(missing, model.FieldError{Field: "email", Code: "REQUIRED", Message: "Email is required"})
	}
	if creds.Password == "" {
		missing = append(missing, model.FieldError{Field: "password", Code: "REQUIRED", Message: "Password is required"})
	}
	if len(missing) > 0 {
		m.metrics.RecordLogin("invalid")
		return nil, model.NewValidationError(missing)
	}

	token, err := m.auth.Login(ctx, creds)
	if err != nil {
		m.metrics.RecordLogin("failure")
		m.logger.Info("login rejected", zap.String("email", creds.Email), zap.Error(err))
		return nil, err
	}

	claims, err := m.tokens.Inspect(token)
	if err != nil {
		m.metrics.RecordLogin("failure")
		return nil, err
	}

	now := m.now()
	expires := now.Add(m.ttl)
	if !claims.ExpiresAt.IsZero() && claims.ExpiresAt.Before(expires) {
		expires = claims.ExpiresAt
	}
	if !expires.After(now) {
		m.metrics.RecordLogin("failure")
		return nil, model.NewSessionExpiredError()
	}

	rec := Record{
		ID:        uuid.NewString(),
		SubjectID: claims.Subject,
		Email:     claims.Email,
		Roles:     claims.Roles,
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: expires,
	}
	if rec.SubjectID == "" {
		rec.SubjectID = creds.Email
	}
	if rec.Email == "" {
		rec.Email = creds.Email
	}

	if err := m.store.Save(ctx, rec, expires.Sub(now)); err != nil {
		m.metrics.RecordLogin("error")
		return nil, fmt.Errorf("session: saving: %w", err)
	}

	m.metrics.RecordLogin("success")
	m.logger.Info("session opened",
		zap.String("session_id", rec.ID),
		zap.String("subject_id", rec.SubjectID),
		zap.Time("expires_at", rec.ExpiresAt),
	)
	return rec.sessionContext(), nil
}

// Authenticate returns the live session with the given id. Unknown and
// expired sessions yield SESSION_EXPIRED; an expired session is also ended.
func (m *Manager) Authenticate(ctx context.Context, id string) (*model.SessionContext, error) {
	if id == "" {
		return nil, model.NewUnauthorizedError("Sign in to continue")
	}
	rec, err := m.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		m.closeWorkspace(id)
		return nil, model.NewSessionExpiredError()
	}
	if err != nil {
		return nil, fmt.Errorf("session: loading: %w", err)
	}

	sctx := rec.sessionContext()
	if sctx.Expired(m.now()) {
		if err := m.Logout(ctx, id); err != nil {
			m.logger.Warn("ending expired session failed", zap.String("session_id", id), zap.Error(err))
		}
		return nil, model.NewSessionExpiredError()
	}
	return sctx, nil
}

// Logout ends the session: the record is deleted and every screen of the
// session is cancelled.
func (m *Manager) Logout(ctx context.Context, id string) error {
	m.closeWorkspace(id)
	for _, inv := range m.invalidators {
		inv.Invalidate(id)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("session: deleting: %w", err)
	}
	m.logger.Info("session closed", zap.String("session_id", id))
	return nil
}

// Workspace returns the workspace of sctx, creating it on first use.
func (m *Manager) Workspace(sctx *model.SessionContext) *Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ws, ok := m.workspaces[sctx.SessionID]; ok {
		return ws
	}
	// The workspace keeps the session without request-scoped ids.
	base := sctx.WithCorrelationID("", "")
	ws := newWorkspace(base, m.deps)
	m.workspaces[sctx.SessionID] = ws
	m.metrics.SessionOpened(1)
	return ws
}

// LookupWorkspace returns an existing workspace.
func (m *Manager) LookupWorkspace(id string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	return ws, ok
}

// Sweep closes the workspaces of sessions that have expired.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	var expired []string
	for id, ws := range m.workspaces {
		if ws.sctx.Expired(now) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.closeWorkspace(id)
	}
	if len(expired) > 0 {
		m.logger.Info("expired sessions swept", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps expired workspaces every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Close closes every workspace.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.workspaces))
	for id := range m.workspaces {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.closeWorkspace(id)
	}
}

func (m *Manager) closeWorkspace(id string) {
	m.mu.Lock()
	ws, ok := m.workspaces[id]
	delete(m.workspaces, id)
	m.mu.Unlock()

	if ok {
		ws.Close()
		m.metrics.SessionOpened(-1)
	}
}

func (r Record) sessionContext() *model.SessionContext {
	return &model.SessionContext{
		SessionID: r.ID,
		SubjectID: r.SubjectID,
		Email:     r.Email,
		Roles:     append([]string(nil), r.Roles...),
		Token:     r.Token,
		IssuedAt:  r.IssuedAt,
		ExpiresAt: r.ExpiresAt,
	}
}
