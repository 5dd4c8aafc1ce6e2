package transport

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/console/internal/capability"
	"github.com/pitabwire/console/internal/definition"
	"github.com/pitabwire/console/internal/listview"
	"github.com/pitabwire/console/internal/session"
	"github.com/pitabwire/console/model"
)

// maxSnapshotWait bounds a long-polling snapshot request.
const maxSnapshotWait = 20 * time.Second

type mountRequest struct {
	Resource string `json:"resource"`
	View     string `json:"view"`
}

type filterRequest struct {
	Query     *string `json:"query"`
	Facet     *string `json:"facet"`
	Immediate bool    `json:"immediate"`
}

type pageRequest struct {
	Page     *int `json:"page"`
	PageSize *int `json:"page_size"`
}

func handleMount(registry *definition.Registry, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mountRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if req.View == "" {
			req.View = model.ViewActive
		}

		def, ok := registry.GetResource(req.Resource)
		if !ok {
			WriteNotFound(w, "Unknown resource "+req.Resource)
			return
		}
		if !capability.Allows(CapabilitiesFrom(r.Context()), &def, "view") {
			WriteForbidden(w, "You are not allowed to view "+def.Title)
			return
		}

		sctx := model.MustSessionContext(r.Context())
		s, err := sessions.Workspace(sctx).Mount(req.Resource, req.View)
		if err != nil {
			WriteError(w, err)
			return
		}

		// A failed first load is reported through the screen's banner.
		if err := s.Reload(r.Context()); model.HasCode(err, model.ErrScreenClosed) {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, s.Snapshot())
	}
}

// handleSnapshot returns the rendered screen. With ?since=<version> the
// request waits up to ?wait=<duration> for the screen to move past that
// version.
func handleSnapshot(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, sessions)
		if !ok {
			return
		}

		if raw := r.URL.Query().Get("since"); raw != "" {
			since, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				WriteError(w, model.NewBadRequestError("since must be a version number"))
				return
			}
			wait := maxSnapshotWait
			if rw := r.URL.Query().Get("wait"); rw != "" {
				d, err := time.ParseDuration(rw)
				if err != nil || d < 0 {
					WriteError(w, model.NewBadRequestError("wait must be a duration such as 10s"))
					return
				}
				wait = min(d, maxSnapshotWait)
			}
			ctx, cancel := context.WithTimeout(r.Context(), wait)
			s.WaitForChange(ctx, since)
			cancel()
		}
		WriteJSON(w, http.StatusOK, s.Snapshot())
	}
}

func handleUnmount(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sctx := model.MustSessionContext(r.Context())
		sessions.Workspace(sctx).Unmount(chi.URLParam(r, "screenId"))
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleReload(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, sessions)
		if !ok {
			return
		}
		err := s.Reload(r.Context())
		if model.HasCode(err, model.ErrScreenClosed) || model.HasCode(err, model.ErrScreenNotReady) {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, s.Snapshot())
	}
}

func handleFilter(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, sessions)
		if !ok {
			return
		}
		var req filterRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if req.Facet != nil {
			if err := s.SetFacet(*req.Facet); err != nil {
				WriteError(w, err)
				return
			}
		}
		if req.Query != nil {
			if err := s.SetQuery(*req.Query, req.Immediate); err != nil {
				WriteError(w, err)
				return
			}
		}
		WriteJSON(w, http.StatusOK, s.Snapshot())
	}
}

func handlePage(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, sessions)
		if !ok {
			return
		}
		var req pageRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		// A size change resets to the first page, so it goes before page.
		if req.PageSize != nil {
			if err := s.SetPageSize(*req.PageSize); err != nil {
				WriteError(w, err)
				return
			}
		}
		if req.Page != nil {
			if err := s.SetPage(*req.Page); err != nil {
				WriteError(w, err)
				return
			}
		}
		WriteJSON(w, http.StatusOK, s.Snapshot())
	}
}

func handleDismissBanner(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupScreen(w, r, sessions)
		if !ok {
			return
		}
		s.DismissBanner()
		WriteJSON(w, http.StatusOK, s.Snapshot())
	}
}

// lookupScreen finds the screen named by the route in the caller's
// workspace. Screens of other sessions are indistinguishable from missing
// ones.
func lookupScreen(w http.ResponseWriter, r *http.Request, sessions *session.Manager) (*listview.Screen, bool) {
	sctx := model.MustSessionContext(r.Context())
	s, ok := sessions.Workspace(sctx).Screen(chi.URLParam(r, "screenId"))
	if !ok {
		WriteNotFound(w, "screen not found")
		return nil, false
	}
	return s, true
}

// invalidateOptions drops the picker options of the screen's resource after
// a mutation changed its records.
func invalidateOptions(r *http.Request, sessions *session.Manager, s *listview.Screen) {
	sessions.Workspace(model.MustSessionContext(r.Context())).InvalidateOptions(s.Resource())
}

// authorize writes a 403 and returns false when the caller may not perform
// action on the screen's resource.
func authorize(w http.ResponseWriter, r *http.Request, s *listview.Screen, action string) bool {
	def := s.Definition()
	if capability.Allows(CapabilitiesFrom(r.Context()), def, action) {
		return true
	}
	WriteForbidden(w, "You are not allowed to "+actionVerb(action)+" "+def.Title)
	return false
}

func actionVerb(action string) string {
	switch action {
	case model.ActionPermanentDelete:
		return "permanently delete"
	case model.ActionStatus:
		return "change the status of"
	default:
		return action
	}
}
