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

	"github.com/angelmondragon/catalogsync/api/controllers"
	"github.com/angelmondragon/catalogsync/api/routes"
	"github.com/angelmondragon/catalogsync/internal/backup"
	"github.com/angelmondragon/catalogsync/internal/catalogsync"
	"github.com/angelmondragon/catalogsync/internal/cron"
	"github.com/angelmondragon/catalogsync/pkg/config"
	"github.com/angelmondragon/catalogsync/pkg/db"
	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/angelmondragon/catalogsync/pkg/metrics"
	"github.com/angelmondragon/catalogsync/pkg/migrate"
	"github.com/angelmondragon/catalogsync/pkg/redis"
	"github.com/angelmondragon/catalogsync/pkg/shopify"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "sync-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := cfg.Shopify.Validate(); err != nil {
		logg.Error(context.Background(), "invalid shopify config", err)
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

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	checks := map[string]controllers.Pinger{"database": dbClient}
	var (
		lock     cron.Lock
		recorder cron.RunRecorder
	)
	if cfg.Redis.Enabled() {
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
		lock, err = cron.NewRedisLock(redisClient, redisClient.LockKey("job", catalogsync.JobName), 0)
		if err != nil {
			logg.Error(context.Background(), "failed to create sync lock", err)
			os.Exit(1)
		}
		recorder = redisClient
		checks["redis"] = redisClient
	} else {
		logg.Warn(context.Background(), "redis not configured, sync lock is process-local")
		lock = cron.NewLocalLocks().Named("job:" + catalogsync.JobName)
	}

	source, err := shopify.NewClient(cfg.Shopify,
		shopify.WithLogger(logg),
		shopify.WithObserver(metrics.NewTransportMetrics(prometheus.DefaultRegisterer)),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to build shopify client", err)
		os.Exit(1)
	}

	repo := catalogsync.NewRepository(dbClient.DB())
	syncService, err := catalogsync.NewService(catalogsync.ServiceParams{
		Source:        source,
		Repo:          repo,
		DB:            dbClient,
		Logger:        logg,
		Status:        cfg.Sync.ProductStatus,
		PageSize:      cfg.Sync.PageSize,
		StockLocation: cfg.Sync.StockLocation,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sync service", err)
		os.Exit(1)
	}
	syncJob, err := catalogsync.NewJob(syncService)
	if err != nil {
		logg.Error(context.Background(), "failed to create sync job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(syncJob),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Recorder: recorder,
		Interval: cfg.Sync.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Sync.Interval.String(),
		"addr":     cfg.Sync.MetricsAddr,
	})

	server := &http.Server{
		Addr: cfg.Sync.MetricsAddr,
		Handler: routes.NewRouter(routes.Deps{
			Env:     cfg.App.Env,
			Logger:  logg,
			Checks:  checks,
			Runs:    backup.NewJournal(dbClient.DB()),
			History: repo,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
			stop()
		}
	}()

	logg.Info(ctx, "starting sync worker")

	runErr := service.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "ops server shutdown failed", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(ctx, "sync worker stopped unexpectedly", runErr)
		os.Exit(1)
	}
	logg.Info(ctx, "sync worker shutting down gracefully")
}
