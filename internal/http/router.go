// Package httpapi assembles the public router.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"anyzine/internal/identity"
	"anyzine/internal/platform/metrics"
	"anyzine/internal/ratelimit/handler"
	rlmiddleware "anyzine/internal/ratelimit/middleware"
	"anyzine/internal/ratelimit/ports"
	"anyzine/internal/zine"
	"anyzine/pkg/platform/httputil"
	"anyzine/pkg/platform/middleware/admin"
	"anyzine/pkg/platform/middleware/metadata"
	"anyzine/pkg/platform/middleware/request"
	"anyzine/pkg/platform/middleware/requesttime"
)

const healthTimeout = 2 * time.Second

// Dependencies are the constructed components the router mounts.
// Health and Metrics may be nil.
type Dependencies struct {
	Logger     *slog.Logger
	Verifier   identity.SubjectVerifier
	RateLimit  *rlmiddleware.Middleware
	Status     *handler.Handler
	Zine       *zine.Handler
	AdminToken string
	Health     ports.HealthChecker
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
}

func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Get("/healthz", healthHandler(deps.Health, deps.Logger))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(identity.Optional(deps.Verifier, deps.Logger))

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Gate)
			deps.Zine.Register(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Sessions)
			r.Get("/api/rate-limit", deps.Status.HandleStatus)
			r.With(identity.RequireSubject).Post("/api/rate-limit/migrate", deps.Status.HandleMigrate)
		})
	})

	if deps.AdminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(deps.AdminToken, deps.Logger))
			deps.Status.RegisterAdmin(r)
		})
	}

	return r
}

func healthHandler(checker ports.HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := checker.Health(ctx); err != nil {
				logger.WarnContext(ctx, "store health check failed", "error", err)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
