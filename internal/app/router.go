package app

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	audithttp "github.com/infrapanel/infrapanel/internal/audit/http"
	"github.com/infrapanel/infrapanel/internal/observability"
	"github.com/infrapanel/infrapanel/internal/permissions"
	"github.com/infrapanel/infrapanel/internal/platform/httpx"
	"github.com/infrapanel/infrapanel/internal/rbac"
	"github.com/infrapanel/infrapanel/internal/resources"
	"github.com/infrapanel/infrapanel/jobs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	RBACMiddleware     rbac.Middleware
	RBACHandler        *rbac.Handler
	PermissionsHandler *permissions.Handler
	ResourcesHandler   *resources.Handler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	Health             map[string]Pinger
}

// NewRouter constructs the chi.Router with panel defaults.
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

	r.Get("/healthz", healthHandler(params.Health))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(params.RBACMiddleware.Principal)

		if params.PermissionsHandler != nil {
			r.Route("/me/permissions", params.PermissionsHandler.MountSelfRoutes)
		}
		if params.ResourcesHandler != nil {
			r.Route("/resources", params.ResourcesHandler.MountRoutes)
		}

		r.Group(func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireAdmin)
			if params.PermissionsHandler != nil {
				r.Route("/grants", params.PermissionsHandler.MountRoutes)
			}
			if params.RBACHandler != nil {
				r.Route("/roles", params.RBACHandler.MountRoleRoutes)
				r.Route("/users", params.RBACHandler.MountUserRoutes)
			}
			if params.AuditHandler != nil {
				r.Route("/audit", params.AuditHandler.MountRoutes)
			}
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}

// NewMetricsRouter serves /metrics and /healthz for processes without the API,
// such as the job worker.
func NewMetricsRouter(metrics *observability.Metrics, health map[string]Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", healthHandler(health))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// healthHandler pings every dependency concurrently.
func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		status := http.StatusOK
		var (
			mu sync.Mutex
			g  errgroup.Group
		)
		for name, p := range checks {
			name, p := name, p
			g.Go(func() error {
				err := p.Ping(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					results[name] = "down"
					status = http.StatusServiceUnavailable
					return nil
				}
				results[name] = "ok"
				return nil
			})
		}
		_ = g.Wait()

		body := map[string]any{"status": "ok", "checks": results}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		httpx.JSON(w, status, body)
	}
}
