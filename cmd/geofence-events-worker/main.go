package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hostelsync/hostelsync-backend/internal/geofenceevents"
	"github.com/hostelsync/hostelsync-backend/pkg/bigquery"
	"github.com/hostelsync/hostelsync-backend/pkg/config"
	"github.com/hostelsync/hostelsync-backend/pkg/instance"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
	"github.com/hostelsync/hostelsync-backend/pkg/outbox/idempotency"
	"github.com/hostelsync/hostelsync-backend/pkg/outbox/registry"
	"github.com/hostelsync/hostelsync-backend/pkg/pubsub"
	"github.com/hostelsync/hostelsync-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "geofence-events-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "geofence-events-worker"

	logg = logger.New(logger.Options{
		ServiceName: "geofence-events-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Instance:    instance.GetID(),
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, true, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	subscription := pubsubClient.GeofenceSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "geofence subscription", errors.New("subscription not configured"))
	}

	manager, err := idempotency.NewManager(redisClient, geofenceevents.ConsumerName, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	writer, err := geofenceevents.NewWriter(bqClient, bqClient.GeofenceEventsTable(), geofenceevents.RetryPolicy{})
	requireResource(ctx, logg, "geofence bigquery writer", err)

	service, err := geofenceevents.NewService(geofenceevents.ServiceParams{
		Subscription: subscription,
		Claims:       manager,
		Decoders:     registry.NewGeofenceDecoderRegistry(),
		Writer:       writer,
		Logger:       logg,
	})
	requireResource(ctx, logg, "geofence events worker", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"subscription": cfg.PubSub.GeofenceSubscription,
	})
	logg.Info(runCtx, "geofence events worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "geofence events worker failed", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
