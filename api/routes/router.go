package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hostelsync/hostelsync-backend/api/controllers"
	"github.com/hostelsync/hostelsync-backend/api/middleware"
	"github.com/hostelsync/hostelsync-backend/internal/locations"
	"github.com/hostelsync/hostelsync-backend/pkg/config"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
	"github.com/hostelsync/hostelsync-backend/pkg/metrics"
)

// RateLimitStore backs the per-IP ingest limiter.
type RateLimitStore interface {
	CountInWindow(ctx context.Context, scope string, window time.Duration) (int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	rateStore RateLimitStore,
	gatherer prometheus.Gatherer,
	locationMetrics *metrics.LocationMetrics,
	locationService locations.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Ingest.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	ingestPolicy := middleware.NewRateLimitPolicy("ingest", cfg.Ingest.RateLimitWindow, cfg.Ingest.RateLimitPerIP)
	var limiter func(http.Handler) http.Handler
	if rateStore != nil {
		limiter = middleware.RateLimit(ingestPolicy, rateStore, logg)
	} else {
		limiter = func(next http.Handler) http.Handler { return next }
	}
	ingestAuth := middleware.IngestAuth(cfg.JWT, cfg.FeatureFlags.RequireIngestAuth, logg)

	r.Route("/locations-api", func(r chi.Router) {
		r.With(limiter, ingestAuth).Get("/ws", controllers.LocationStream(locationService, cfg.Ingest, locationMetrics, logg))
		r.With(limiter, ingestAuth).Post("/location", controllers.PostLocation(locationService, logg))
		r.Get("/nearby-users", controllers.NearbyUsers(locationService, cfg.Geofence, logg))
		r.Get("/location/{username}", controllers.LastLocation(locationService, logg))
	})

	return r
}
