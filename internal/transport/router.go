package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/internal/definition"
	"github.com/pitabwire/console/internal/metadata"
	"github.com/pitabwire/console/internal/observability"
	"github.com/pitabwire/console/internal/session"
	"github.com/pitabwire/console/internal/upload"
	"github.com/pitabwire/console/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Registry           *definition.Registry
	Sessions           *session.Manager
	CapabilityResolver model.CapabilityResolver
	Menu               *metadata.MenuProvider
	Screens            *metadata.ScreenProvider
	Uploads            *upload.Normalizer
	Metrics            *observability.Metrics
	Readiness          *observability.Readiness
	Logger             *zap.Logger
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics, and sign-in bypass the
// session middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()
	cookie := CookieSettings{
		Name:   deps.Config.Session.CookieName,
		Secure: deps.Config.Session.Secure,
	}

	// Global middleware: applied to all routes including health.
	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(InjectLogger(deps.Logger))

	// Public routes.
	r.Get("/ui/health", observability.HandleHealth())
	readiness := deps.Readiness
	if readiness == nil {
		readiness = observability.NewReadiness(0)
	}
	r.Get("/ui/ready", readiness.Handler())
	if deps.Config.Observability.Metrics.Enabled {
		r.Handle(deps.Config.Observability.Metrics.Path, deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Post("/ui/session", handleLogin(deps.Sessions, cookie))

		// Session-bound routes.
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(deps.Sessions, cookie))
			r.Use(ResolveCapabilities(deps.CapabilityResolver))

			r.Get("/ui/session", handleSessionInfo())
			r.Delete("/ui/session", handleLogout(deps.Sessions, cookie))

			r.Get("/ui/navigation", handleNavigation(deps.Menu))
			r.Get("/ui/resources/{resourceId}", handleResource(deps.Screens))
			r.Get("/ui/references/{resourceId}", handleOptions(deps.Registry, deps.Sessions))
			r.Get("/ui/references/{resourceId}/{id}", handleReference(deps.Registry, deps.Sessions))

			r.Post("/ui/screens", handleMount(deps.Registry, deps.Sessions))
			r.Route("/ui/screens/{screenId}", func(r chi.Router) {
				r.Get("/", handleSnapshot(deps.Sessions))
				r.Delete("/", handleUnmount(deps.Sessions))
				r.Post("/reload", handleReload(deps.Sessions))
				r.Put("/filter", handleFilter(deps.Sessions))
				r.Put("/page", handlePage(deps.Sessions))
				r.Post("/banner/dismiss", handleDismissBanner(deps.Sessions))

				r.Post("/items", handleCreate(deps.Sessions, deps.Uploads, deps.Config.Uploads))
				r.Put("/items/{id}", handleUpdate(deps.Sessions, deps.Uploads, deps.Config.Uploads))
				r.Post("/items/{id}/status", handleStatus(deps.Sessions))
				r.Delete("/items/{id}", handleRequestConfirmation(deps.Sessions, model.ActionDelete))
				r.Post("/items/{id}/restore", handleRequestConfirmation(deps.Sessions, model.ActionRestore))
				r.Post("/items/{id}/purge", handleRequestConfirmation(deps.Sessions, model.ActionPermanentDelete))

				r.Post("/confirmation/confirm", handleConfirm(deps.Sessions))
				r.Post("/confirmation/cancel", handleCancel(deps.Sessions))
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteNotFound(w, "route not found")
	})
	return r
}
