package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/console/internal/capability"
	"github.com/pitabwire/console/internal/definition"
	"github.com/pitabwire/console/internal/session"
	"github.com/pitabwire/console/model"
)

// handleReference returns the label of a foreign id. ?wait=true blocks until
// the label is fetched; by default a pending id returns the placeholder.
func handleReference(registry *definition.Registry, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resource := chi.URLParam(r, "resourceId")
		def, ok := registry.GetResource(resource)
		if !ok {
			WriteNotFound(w, "Unknown resource "+resource)
			return
		}
		if !capability.Allows(CapabilitiesFrom(r.Context()), &def, "view") {
			WriteForbidden(w, "You are not allowed to view "+def.Title)
			return
		}
		wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

		sctx := model.MustSessionContext(r.Context())
		ref, err := sessions.Workspace(sctx).Label(r.Context(), resource, chi.URLParam(r, "id"), wait)
		if err != nil {
			WriteError(w, model.NewBackendTimeoutError())
			return
		}
		WriteJSON(w, http.StatusOK, ref)
	}
}

// handleOptions lists the records of a resource as picker options for the
// reference fields that point at it. ?q= filters by label.
func handleOptions(registry *definition.Registry, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resource := chi.URLParam(r, "resourceId")
		def, ok := registry.GetResource(resource)
		if !ok {
			WriteNotFound(w, "Unknown resource "+resource)
			return
		}
		if !capability.Allows(CapabilitiesFrom(r.Context()), &def, "view") {
			WriteForbidden(w, "You are not allowed to view "+def.Title)
			return
		}

		sctx := model.MustSessionContext(r.Context())
		list, err := sessions.Workspace(sctx).Options(r.Context(), resource, r.URL.Query().Get("q"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, list)
	}
}
