package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/console/internal/metadata"
)

// handleNavigation serves the menu with an ETag so the shell can revalidate
// it on every page load without re-downloading.
func handleNavigation(menu *metadata.MenuProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caps := CapabilitiesFrom(r.Context())
		etag := `"` + menu.Version(caps) + `"`

		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "private, no-cache")
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		WriteJSON(w, http.StatusOK, menu.GetMenu(caps))
	}
}

// handleResource serves the screen descriptor of one resource.
func handleResource(screens *metadata.ScreenProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		desc, err := screens.GetScreen(CapabilitiesFrom(r.Context()), chi.URLParam(r, "resourceId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}
