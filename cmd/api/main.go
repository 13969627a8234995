package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hostelsync/hostelsync-backend/api"
	"github.com/hostelsync/hostelsync-backend/api/controllers"
	"github.com/hostelsync/hostelsync-backend/api/routes"
	"github.com/hostelsync/hostelsync-backend/internal/geofence"
	"github.com/hostelsync/hostelsync-backend/internal/locations"
	"github.com/hostelsync/hostelsync-backend/pkg/config"
	"github.com/hostelsync/hostelsync-backend/pkg/db"
	"github.com/hostelsync/hostelsync-backend/pkg/geo"
	"github.com/hostelsync/hostelsync-backend/pkg/instance"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
	"github.com/hostelsync/hostelsync-backend/pkg/metrics"
	"github.com/hostelsync/hostelsync-backend/pkg/migrate"
	"github.com/hostelsync/hostelsync-backend/pkg/outbox"
	"github.com/hostelsync/hostelsync-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Instance:    instance.GetID(),
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	locationMetrics := metrics.NewLocationMetrics(registry)

	geoIndex, err := locations.NewRedisIndex(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create geo index", err)
		os.Exit(1)
	}

	locationService, err := locations.NewService(locations.ServiceParams{
		DB:      dbClient,
		Repo:    locations.NewRepository(dbClient.DB()),
		Index:   geoIndex,
		Events:  outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:  logg,
		Metrics: locationMetrics,
		Fence: geofence.Fence{
			Center:       geo.Point{Lat: cfg.Geofence.ReferenceLat, Lng: cfg.Geofence.ReferenceLng},
			RadiusMeters: cfg.Geofence.RadiusMeters,
		},
		StaleAfter: cfg.Geofence.StaleAfter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create location service", err)
		os.Exit(1)
	}

	// A missing index is rebuilt before serving so the first nearby query is complete.
	if err := locationService.EnsureIndex(context.Background()); err != nil {
		logg.Error(context.Background(), "failed to prepare geo index", err)
		os.Exit(1)
	}

	readiness := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
	}
	handler := routes.NewRouter(cfg, logg, readiness, redisClient, registry, locationMetrics, locationService)

	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	server := api.NewServer(cfg, handler, baseCtx)

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": server.Addr,
	})

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
		return
	case <-sigCtx.Done():
	}

	logg.Info(ctx, "api server shutting down")
	// Streams are hijacked and invisible to Shutdown; canceling the base
	// context makes each one send a close frame.
	cancelStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
	}
	logg.Info(ctx, "api server stopped")
}
