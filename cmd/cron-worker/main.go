package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hostelsync/hostelsync-backend/internal/cron"
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

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	geoIndex, err := locations.NewRedisIndex(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create geo index", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	locationService, err := locations.NewService(locations.ServiceParams{
		DB:      dbClient,
		Repo:    locations.NewRepository(dbClient.DB()),
		Index:   geoIndex,
		Events:  outbox.NewService(outboxRepo, logg),
		Logger:  logg,
		Metrics: metrics.NewLocationMetrics(prometheus.DefaultRegisterer),
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

	jobs := []cron.Job{}
	if cfg.Retention.PositionMaxAge > 0 {
		retentionJob, err := cron.NewPositionRetentionJob(cron.PositionRetentionJobParams{
			Logger:    logg,
			Positions: locationService,
			MaxAge:    cfg.Retention.PositionMaxAge,
			BatchSize: cfg.Cron.ReconcileBatchSize,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create position retention job", err)
			os.Exit(1)
		}
		jobs = append(jobs, retentionJob)
	} else {
		logg.Info(context.Background(), "position retention disabled")
	}

	reconcileJob, err := cron.NewIndexReconcileJob(cron.IndexReconcileJobParams{
		Logger:    logg,
		Index:     locationService,
		BatchSize: cfg.Cron.ReconcileBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create geo index reconcile job", err)
		os.Exit(1)
	}
	jobs = append(jobs, reconcileJob)

	outboxJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		MaxAge:      cfg.Retention.OutboxMaxAge,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}
	jobs = append(jobs, outboxJob)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+envOrLocal(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(jobs...)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
