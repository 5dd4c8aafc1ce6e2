package transport

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/console/internal/backend"
	"github.com/pitabwire/console/internal/observability"
	"github.com/pitabwire/console/internal/session"
	"github.com/pitabwire/console/model"
)

// sessionResponse describes the signed-in admin. The token never leaves the
// console.
type sessionResponse struct {
	SessionID    string    `json:"session_id"`
	SubjectID    string    `json:"subject_id"`
	Email        string    `json:"email,omitempty"`
	Roles        []string  `json:"roles,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Capabilities []string  `json:"capabilities,omitempty"`
}

func newSessionResponse(sctx *model.SessionContext, caps model.CapabilitySet) sessionResponse {
	resp := sessionResponse{
		SessionID: sctx.SessionID,
		SubjectID: sctx.SubjectID,
		Email:     sctx.Email,
		Roles:     sctx.Roles,
		ExpiresAt: sctx.ExpiresAt,
	}
	if len(caps) > 0 {
		resp.Capabilities = caps.Sorted()
	}
	return resp
}

func handleLogin(sessions *session.Manager, cookie CookieSettings) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds backend.Credentials
		if err := decodeJSON(r, &creds); err != nil {
			WriteError(w, err)
			return
		}

		sctx, err := sessions.Login(r.Context(), creds)
		if err != nil {
			observability.RequestLogger(r.Context(), zap.NewNop()).Info("sign-in failed", zap.Error(err))
			WriteError(w, err)
			return
		}

		cookie.set(w, sctx.SessionID, sctx.ExpiresAt)
		w.Header().Set(SessionHeader, sctx.SessionID)
		WriteJSON(w, http.StatusCreated, newSessionResponse(sctx, nil))
	}
}

func handleSessionInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sctx := model.MustSessionContext(r.Context())
		WriteJSON(w, http.StatusOK, newSessionResponse(sctx, CapabilitiesFrom(r.Context())))
	}
}

func handleLogout(sessions *session.Manager, cookie CookieSettings) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sctx := model.MustSessionContext(r.Context())
		if err := sessions.Logout(r.Context(), sctx.SessionID); err != nil {
			WriteError(w, err)
			return
		}
		cookie.clear(w)
		w.WriteHeader(http.StatusNoContent)
	}
}
