package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/console/model"
)

type stubSessions struct {
	sessions map[string]*model.SessionContext
	expired  map[string]bool
}

func (s stubSessions) Authenticate(_ context.Context, id string) (*model.SessionContext, error) {
	if id == "" {
		return nil, model.NewUnauthorizedError("Sign in to continue")
	}
	if s.expired[id] {
		return nil, model.NewSessionExpiredError()
	}
	sctx, ok := s.sessions[id]
	if !ok {
		return nil, model.NewSessionExpiredError()
	}
	return sctx, nil
}

func newStubSessions() stubSessions {
	return stubSessions{
		sessions: map[string]*model.SessionContext{
			"sess-1": {SessionID: "sess-1", SubjectID: "user-1", Token: "tok"},
		},
		expired: map[string]bool{"sess-old": true},
	}
}

func TestAuthenticate_cookieAndHeader(t *testing.T) {
	cookie := CookieSettings{Name: "console_session"}
	var got *model.SessionContext
	handler := RequestID(Authenticate(newStubSessions(), cookie)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = model.SessionContextFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "corr-9")
	req.AddCookie(&http.Cookie{Name: "console_session", Value: "sess-1"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "corr-9", got.CorrelationID)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeader, "sess-1")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthenticate_rejects(t *testing.T) {
	cookie := CookieSettings{Name: "console_session"}
	handler := Authenticate(newStubSessions(), cookie)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not run")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Result().Cookies(), "a missing session leaves the cookie alone")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "console_session", Value: "sess-old"})
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Negative(t, cookies[0].MaxAge)
}

type mockResolver struct {
	caps  model.CapabilitySet
	err   error
	calls int
}

func (m *mockResolver) Resolve(*model.SessionContext) (model.CapabilitySet, error) {
	m.calls++
	return m.caps, m.err
}

func (m *mockResolver) Invalidate(string) {}

func withSession(r *http.Request) *http.Request {
	return r.WithContext(model.WithSessionContext(r.Context(), &model.SessionContext{SessionID: "s"}))
}

func TestResolveCapabilities(t *testing.T) {
	tests := []struct {
		name     string
		resolver *mockResolver
		session  bool
		wantCap  bool
		calls    int
	}{
		{"resolved", &mockResolver{caps: model.CapabilitySet{"products:read": true}}, true, true, 1},
		{"resolver failure leaves none", &mockResolver{err: errors.New("policy unavailable")}, true, false, 1},
		{"without session", &mockResolver{}, false, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got model.CapabilitySet
			handler := ResolveCapabilities(tt.resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = CapabilitiesFrom(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.session {
				req = withSession(req)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.wantCap, got.Has("products:read"))
			assert.Equal(t, tt.calls, tt.resolver.calls)
		})
	}
}

func TestCookieSettings(t *testing.T) {
	c := CookieSettings{Name: "console_session", Secure: true}
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	w := httptest.NewRecorder()
	c.set(w, "sess-1", expires)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	assert.Equal(t, "sess-1", ck.Value)
	assert.True(t, ck.HttpOnly)
	assert.True(t, ck.Secure)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	assert.Equal(t, "/", ck.Path)
	assert.True(t, expires.Equal(ck.Expires))
}

func TestSessionID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "c", Value: "from-cookie"})
	assert.Equal(t, "from-cookie", sessionID(req, "c"))

	req.Header.Set(SessionHeader, " from-header ")
	assert.Equal(t, "from-header", sessionID(req, "c"))

	assert.Empty(t, sessionID(httptest.NewRequest(http.MethodGet, "/", nil), "c"))
}
