package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lapor-warga/portal-backend/internal/profiles"
	"github.com/lapor-warga/portal-backend/internal/provisioning"
	"github.com/lapor-warga/portal-backend/pkg/config"
	"github.com/lapor-warga/portal-backend/pkg/db"
	"github.com/lapor-warga/portal-backend/pkg/idempotency"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/lapor-warga/portal-backend/pkg/metrics"
	"github.com/lapor-warga/portal-backend/pkg/pubsub"
	"github.com/lapor-warga/portal-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "provisioner"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "provisioner",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if !cfg.PubSub.Enabled(cfg.GCP) || cfg.PubSub.IdentitySubscription == "" {
		logg.Error(context.Background(), "identity subscription not configured", errors.New("missing pubsub config"))
		os.Exit(1)
	}

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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	subscription := pubsubClient.IdentitySubscription()
	if subscription == nil {
		logg.Error(context.Background(), "identity subscription unavailable", errors.New("nil subscriber"))
		os.Exit(1)
	}

	guard, err := idempotency.NewManager(redisClient, cfg.PubSub.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	consumer, err := provisioning.NewConsumer(provisioning.ConsumerParams{
		Profiles:      profiles.NewRepository(dbClient.DB()),
		Subscription:  subscription,
		Idempotency:   guard,
		Logger:        logg,
		Metrics:       metrics.NewPortalMetrics(registry),
		AvatarBaseURL: cfg.Profile.AvatarBaseURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create provisioning consumer", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"subscription": cfg.PubSub.IdentitySubscription,
	})
	logg.Info(ctx, "starting profile provisioner")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: ":" + cfg.App.Port, Handler: mux}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return consumer.Run(groupCtx)
	})
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "profile provisioner stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "profile provisioner shutting down gracefully")
}
