package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lapor-warga/portal-backend/api/controllers"
	"github.com/lapor-warga/portal-backend/api/routes"
	"github.com/lapor-warga/portal-backend/internal/identity"
	"github.com/lapor-warga/portal-backend/internal/portal"
	"github.com/lapor-warga/portal-backend/internal/profiles"
	"github.com/lapor-warga/portal-backend/pkg/auth/session"
	"github.com/lapor-warga/portal-backend/pkg/config"
	"github.com/lapor-warga/portal-backend/pkg/db"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/lapor-warga/portal-backend/pkg/metrics"
	"github.com/lapor-warga/portal-backend/pkg/migrate"
	"github.com/lapor-warga/portal-backend/pkg/pubsub"
	"github.com/lapor-warga/portal-backend/pkg/redis"
)

func main() {
	boot := logger.New(logger.Options{ServiceName: "api"})
	if err := godotenv.Load(); err != nil {
		boot.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		boot.Error(context.Background(), "api exited", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWith(logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWith(logg, "redis", redisClient.Close)

	pingers := map[string]controllers.Pinger{"db": dbClient, "redis": redisClient}

	var publisher identity.Publisher = identity.NoopPublisher{}
	if cfg.PubSub.Enabled(cfg.GCP) {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return fmt.Errorf("bootstrap pubsub: %w", err)
		}
		defer closeWith(logg, "pubsub", pubsubClient.Close)

		topic, err := identity.NewPubSubPublisher(pubsubClient.IdentityPublisher())
		if err != nil {
			return fmt.Errorf("identity publisher: %w", err)
		}
		publisher = topic
		pingers["pubsub"] = pubsubClient
	} else {
		logg.Warn(ctx, "pubsub not configured, identity events disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	portalMetrics := metrics.NewPortalMetrics(registry)

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}
	identityService, err := identity.NewService(identity.ServiceParams{
		Accounts:       identity.NewAccountRepository(dbClient.DB()),
		Sessions:       sessionManager,
		Publisher:      publisher,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
		Logger:         logg,
	})
	if err != nil {
		return fmt.Errorf("identity service: %w", err)
	}

	profileRepo := profiles.NewRepository(dbClient.DB())
	reconciler, err := profiles.NewReconciler(profiles.ReconcilerParams{
		Store:         profileRepo,
		Logger:        logg,
		Metrics:       portalMetrics,
		RetryBudget:   cfg.Profile.RetryBudget,
		Backoff:       cfg.Profile.RetryBackoff,
		AvatarBaseURL: cfg.Profile.AvatarBaseURL,
	})
	if err != nil {
		return fmt.Errorf("profile reconciler: %w", err)
	}

	workspaces, err := portal.NewRegistry(portal.RegistryParams{
		Identity:        identityService,
		Reconciler:      reconciler,
		Profiles:        profileRepo,
		Logger:          logg,
		Metrics:         portalMetrics,
		StrictRoleGuard: cfg.FeatureFlags.StrictRoleGuard,
		IdleTTL:         cfg.Workspace.IdleTTL,
		SweepInterval:   cfg.Workspace.SweepInterval,
		MaxWorkspaces:   cfg.Workspace.MaxLive,
	})
	if err != nil {
		return fmt.Errorf("workspace registry: %w", err)
	}

	addr := ":" + cfg.App.Port
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "addr": addr})

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:      cfg,
			Logger:      logg,
			Portal:      workspaces,
			RateLimiter: redisClient,
			Pingers:     pingers,
			Gatherer:    registry,
		}),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logg.Info(ctx, "api.listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return workspaces.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
		defer cancel()
		return multierr.Combine(server.Shutdown(shutdownCtx), workspaces.Close(shutdownCtx))
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "api.stopped")
	return nil
}

func closeWith(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "closing "+name, err)
	}
}
