package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// SessionContext is the authenticated admin session. It replaces ad hoc token
// reads: every component that calls the backend receives it explicitly.
// It is immutable after construction and safe for concurrent reads.
type SessionContext struct {
	SessionID     string
	SubjectID     string
	Email         string
	Roles         []string
	Token         string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	CorrelationID string
	TraceID       string
}

// Validate checks that all mandatory fields are present.
func (sc *SessionContext) Validate() error {
	var errs []error
	if sc.SessionID == "" {
		errs = append(errs, fmt.Errorf("SessionID is required"))
	}
	if sc.Token == "" {
		errs = append(errs, fmt.Errorf("Token is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Expired reports whether the session is past its expiry at the given time.
// A zero ExpiresAt never expires.
func (sc *SessionContext) Expired(now time.Time) bool {
	return !sc.ExpiresAt.IsZero() && !now.Before(sc.ExpiresAt)
}

// HasRole returns true if the session carries the given role.
func (sc *SessionContext) HasRole(role string) bool {
	return slices.Contains(sc.Roles, role)
}

// WithCorrelationID returns a copy of the session bound to a request's
// correlation and trace ids.
func (sc *SessionContext) WithCorrelationID(correlationID, traceID string) *SessionContext {
	cp := *sc
	cp.CorrelationID = correlationID
	cp.TraceID = traceID
	return &cp
}

type contextKey struct{}

// WithSessionContext attaches a SessionContext to the given context.
func WithSessionContext(ctx context.Context, sctx *SessionContext) context.Context {
	return context.WithValue(ctx, contextKey{}, sctx)
}

// SessionContextFrom extracts the SessionContext from the context, or returns
// nil if not present.
func SessionContextFrom(ctx context.Context) *SessionContext {
	sctx, _ := ctx.Value(contextKey{}).(*SessionContext)
	return sctx
}

// MustSessionContext extracts the SessionContext from the context, panicking if
// it is not present. Only call it behind the session middleware.
func MustSessionContext(ctx context.Context) *SessionContext {
	sctx := SessionContextFrom(ctx)
	if sctx == nil {
		panic("model: SessionContext not found in context")
	}
	return sctx
}
