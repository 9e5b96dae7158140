package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/catalogsync/internal/backup"
	"github.com/angelmondragon/catalogsync/internal/cron"
	"github.com/angelmondragon/catalogsync/internal/reset"
	"github.com/angelmondragon/catalogsync/pkg/config"
	"github.com/angelmondragon/catalogsync/pkg/db"
	"github.com/angelmondragon/catalogsync/pkg/enums"
	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/angelmondragon/catalogsync/pkg/metrics"
	"github.com/angelmondragon/catalogsync/pkg/migrate"
	"github.com/angelmondragon/catalogsync/pkg/redis"
	"github.com/angelmondragon/catalogsync/pkg/shopify"
)

func main() {
	os.Exit(run())
}

func run() int {
	logg := logger.New(logger.Options{ServiceName: "reset"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		return reset.ExitSetupError
	}

	logg = logger.New(logger.Options{
		ServiceName: "reset",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	rawIDs := cfg.Reset.ProductIDs
	if len(rawIDs) == 0 && len(os.Args) > 1 {
		rawIDs = config.SplitProductIDs(os.Args[1])
	}
	productIDs, err := config.ParseProductIDs(rawIDs)
	if err != nil {
		logg.Error(context.Background(), "no products to reset", err)
		return reset.ExitSetupError
	}

	if err := cfg.Shopify.Validate(); err != nil {
		logg.Error(context.Background(), "invalid shopify config", err)
		return reset.ExitSetupError
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		return reset.ExitSetupError
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		return reset.ExitSetupError
	}

	transportMetrics := metrics.NewTransportMetrics(prometheus.DefaultRegisterer)
	resetMetrics := metrics.NewResetMetrics(prometheus.DefaultRegisterer)

	catalog, err := shopify.NewClient(cfg.Shopify,
		shopify.WithLogger(logg),
		shopify.WithObserver(transportMetrics),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to build shopify client", err)
		return reset.ExitSetupError
	}

	locks := cron.NewLocalLocks().Products()
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			return reset.ExitSetupError
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		locks = cron.RedisProductLocks(redisClient, cfg.Reset.LockTTL)
	} else {
		logg.Warn(context.Background(), "redis not configured, product locks are process-local")
	}

	policy, err := reset.PolicyFor(enums.SurvivorPolicyName(cfg.Reset.SurvivorPolicy))
	if err != nil {
		logg.Error(context.Background(), "invalid survivor policy", err)
		return reset.ExitSetupError
	}

	batchID := uuid.NewString()
	ctx := logg.WithFields(context.Background(), map[string]any{
		"batch_id": batchID,
		"products": len(productIDs),
		"survivor": string(policy.Name()),
	})

	journal := backup.NewJournal(dbClient.DB())
	if interrupted, err := journal.Interrupted(ctx); err != nil {
		logg.Error(ctx, "could not list interrupted runs", err)
	} else {
		for _, prev := range interrupted {
			logg.Warn(logg.WithFields(ctx, map[string]any{
				"product_id": prev.ProductID,
				"state":      prev.State,
				"prev_batch": prev.BatchID,
			}), "previous run was interrupted, product will be reset again from the live catalog")
		}
	}

	orchestrator, err := reset.NewOrchestrator(reset.Params{
		Catalog: catalog,
		Store:   backup.NewStore(dbClient.DB()),
		Journal: journal,
		Logger:  logg,
		Metrics: resetMetrics,
		Policy:  policy,
		Filter:  reset.TitleMarkerFilter{Marker: cfg.Reset.ExclusionMarker},
		BatchID: batchID,
	})
	if err != nil {
		logg.Error(ctx, "failed to build orchestrator", err)
		return reset.ExitSetupError
	}

	driver, err := reset.NewDriver(reset.DriverParams{
		Runner:  orchestrator,
		Locks:   locks,
		Logger:  logg,
		Metrics: resetMetrics,
		BatchID: batchID,
	})
	if err != nil {
		logg.Error(ctx, "failed to build driver", err)
		return reset.ExitSetupError
	}

	// a signal stops the batch after the product in flight
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg.Info(ctx, "reset batch starting")
	result := driver.RunBatch(ctx, productIDs)

	code := result.ExitCode()
	if !cfg.Reset.ExitOnFailure {
		code = reset.ExitOK
	}
	return code
}
