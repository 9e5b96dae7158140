package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/catalogsync/internal/catalogsync"
	"github.com/angelmondragon/catalogsync/pkg/config"
	"github.com/angelmondragon/catalogsync/pkg/db"
	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/angelmondragon/catalogsync/pkg/metrics"
	"github.com/angelmondragon/catalogsync/pkg/migrate"
	"github.com/angelmondragon/catalogsync/pkg/shopify"
)

// sync runs one catalog mirror pass and exits. sync-worker runs the same
// pass on a schedule.
func main() {
	logg := logger.New(logger.Options{ServiceName: "sync"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "sync",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	requireResource(context.Background(), logg, "shopify config", cfg.Shopify.Validate())

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(context.Background(), logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	requireResource(context.Background(), logg, "dev migrations", migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient))

	source, err := shopify.NewClient(cfg.Shopify,
		shopify.WithLogger(logg),
		shopify.WithObserver(metrics.NewTransportMetrics(prometheus.DefaultRegisterer)),
	)
	requireResource(context.Background(), logg, "shopify client", err)

	svc, err := catalogsync.NewService(catalogsync.ServiceParams{
		Source:        source,
		Repo:          catalogsync.NewRepository(dbClient.DB()),
		DB:            dbClient,
		Logger:        logg,
		Status:        cfg.Sync.ProductStatus,
		PageSize:      cfg.Sync.PageSize,
		StockLocation: cfg.Sync.StockLocation,
	})
	requireResource(context.Background(), logg, "sync service", err)

	ctx, stop := signal.NotifyContext(logg.WithJob(context.Background(), catalogsync.JobName), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := svc.Sync(ctx); err != nil {
		logg.Error(ctx, "catalog sync failed", err)
		stop()
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "resource not working: "+resource, err)
	os.Exit(1)
}
