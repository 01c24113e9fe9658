package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-api/keystone/internal/audit"
	"github.com/keystone-api/keystone/internal/auth"
	"github.com/keystone-api/keystone/internal/observability"
	platformcache "github.com/keystone-api/keystone/internal/platform/cache"
	"github.com/keystone-api/keystone/internal/rbac"
	"github.com/keystone-api/keystone/internal/roles"
	"github.com/keystone-api/keystone/internal/users"
	"github.com/keystone-api/keystone/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	AuthHandler    *auth.Handler
	AuthMiddleware auth.Middleware
	UsersHandler   *users.Handler
	RolesHandler   *roles.Handler
	AuditHandler   *audit.Handler
	Recorder       *audit.Recorder
	JobHandler     *jobs.Handler
	RBACMiddleware rbac.Middleware
	Pool           *pgxpool.Pool
	Cache          *platformcache.Client
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		body := `{"status":"ok"`
		if params.Pool != nil {
			if err := params.Pool.Ping(req.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body += `,"postgres":"down"`
			}
		}
		if params.Cache != nil && !params.Cache.Ready() {
			// Degraded, not down: the API serves without its cache.
			body += `,"redis":"down"`
		}
		body += `}`
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(params.AuthMiddleware.Authenticate)
		if params.Recorder != nil {
			r.Use(audit.RequestLogger(params.Recorder))
		}

		r.Route("/auth", params.AuthHandler.MountRoutes)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireActor)

			if params.UsersHandler != nil {
				r.Route("/users", func(r chi.Router) {
					params.UsersHandler.MountRoutes(r, params.RBACMiddleware)
				})
			}
			if params.RolesHandler != nil {
				r.Route("/roles", func(r chi.Router) {
					params.RolesHandler.MountRoutes(r, params.RBACMiddleware)
				})
			}
			if params.AuditHandler != nil {
				r.Route("/audit", func(r chi.Router) {
					params.AuditHandler.MountRoutes(r,
						params.RBACMiddleware.Require(rbac.ActionRead, "audit"),
						params.RBACMiddleware.Require(rbac.ActionUpdate, "system"))
				})
			}
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}
