package transport

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/console/internal/observability"
	"github.com/pitabwire/console/model"
)

type capabilitiesKey struct{}

// CapabilitiesFrom returns the capabilities resolved for the request, or
// nil when none were.
func CapabilitiesFrom(ctx context.Context) model.CapabilitySet {
	caps, _ := ctx.Value(capabilitiesKey{}).(model.CapabilitySet)
	return caps
}

// SessionAuthenticator resolves a session id into a live session.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, id string) (*model.SessionContext, error)
}

// Authenticate requires a live session, taken from the X-Session-Id header
// or the session cookie. The session is bound to the request's correlation
// and trace ids before handlers see it. An expired session also clears the
// cookie.
func Authenticate(sessions SessionAuthenticator, cookie CookieSettings) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sctx, err := sessions.Authenticate(ctx, sessionID(r, cookie.Name))
			if err != nil {
				if model.HasCode(err, model.ErrSessionExpired) {
					cookie.clear(w)
				}
				WriteError(w, err)
				return
			}

			sctx = sctx.WithCorrelationID(CorrelationIDFrom(ctx), observability.TraceIDFromContext(ctx))
			observability.AnnotateSession(ctx, sctx.SessionID, sctx.SubjectID)
			next.ServeHTTP(w, r.WithContext(model.WithSessionContext(ctx, sctx)))
		})
	}
}

// ResolveCapabilities attaches the session's capabilities. A resolver
// failure is logged and leaves the request without capabilities, so every
// guarded action is refused.
func ResolveCapabilities(resolver model.CapabilityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if resolver == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sctx := model.SessionContextFrom(r.Context())
			if sctx == nil {
				next.ServeHTTP(w, r)
				return
			}
			caps, err := resolver.Resolve(sctx)
			if err != nil {
				observability.RequestLogger(r.Context(), zap.L()).Warn("capability resolution failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), capabilitiesKey{}, caps)))
		})
	}
}

// CookieSettings describes the session cookie.
type CookieSettings struct {
	Name   string
	Secure bool
}

func (c CookieSettings) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c CookieSettings) set(w http.ResponseWriter, id string, expires time.Time) {
	ck := c.cookie(id)
	ck.Expires = expires
	http.SetCookie(w, ck)
}

func (c CookieSettings) clear(w http.ResponseWriter) {
	ck := c.cookie("")
	ck.MaxAge = -1
	http.SetCookie(w, ck)
}

// sessionID prefers the header over the cookie.
func sessionID(r *http.Request, cookieName string) string {
	if id := strings.TrimSpace(r.Header.Get(SessionHeader)); id != "" {
		return id
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}
