package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukalink/dukalink-backend/internal/bidding"
	"github.com/dukalink/dukalink-backend/internal/credit"
	"github.com/dukalink/dukalink-backend/internal/ledger"
	"github.com/dukalink/dukalink-backend/internal/orders"
	"github.com/dukalink/dukalink-backend/internal/queue"
	"github.com/dukalink/dukalink-backend/internal/recovery"
	"github.com/dukalink/dukalink-backend/internal/stock"
	"github.com/dukalink/dukalink-backend/pkg/config"
	"github.com/dukalink/dukalink-backend/pkg/db"
	"github.com/dukalink/dukalink-backend/pkg/logger"
	"github.com/dukalink/dukalink-backend/pkg/metrics"
	"github.com/dukalink/dukalink-backend/pkg/migrate"
	"github.com/dukalink/dukalink-backend/pkg/redis"
	"github.com/dukalink/dukalink-backend/pkg/retry"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "recovery-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "recovery-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
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

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	creditRepo := credit.NewRepository(dbClient.DB())
	stockRepo := stock.NewRepository(dbClient.DB())
	orderRepo := orders.NewRepository(dbClient.DB())
	offerRepo := bidding.NewRepository(dbClient.DB())
	queueRepo := queue.NewRepository(dbClient.DB())

	ledgerSvc, err := ledger.NewService(ledgerRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	creditSvc, err := credit.NewService(dbClient, creditRepo, ledgerSvc, cfg.Credit.ConflictRetries, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create credit service", err)
		os.Exit(1)
	}

	stockSvc, err := stock.NewService(dbClient, stockRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock service", err)
		os.Exit(1)
	}

	orderSvc, err := orders.NewService(dbClient, orderRepo, creditSvc, stockSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	queueSvc, err := queue.NewService(queueRepo, retry.Policy{
		MaxAttempts: cfg.Queues.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Multiplier:  cfg.Retry.Multiplier,
		MaxDelay:    cfg.Retry.MaxDelay,
		JitterRatio: cfg.Retry.JitterRatio,
	}, cfg.Queues.MaxAttempts, nil, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create queue service", err)
		os.Exit(1)
	}

	biddingSvc, err := bidding.NewService(dbClient, offerRepo, orderRepo, orderSvc, queueSvc, creditRepo, cfg.Bidding.DefaultWindow, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create bidding service", err)
		os.Exit(1)
	}

	recoveryMetrics := metrics.NewRecoveryMetrics(prometheus.DefaultRegisterer)
	recoveryRepo := recovery.NewRepository(dbClient.DB())

	recoverySvc, err := recovery.NewService(recoveryRepo, orderSvc, biddingSvc, stockSvc, cfg.Recovery, recoveryMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create recovery service", err)
		os.Exit(1)
	}

	lock, err := recovery.NewLock(redisClient, cfg.Recovery.LockKey, cfg.Recovery.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create recovery lock", err)
		os.Exit(1)
	}

	runner, err := recovery.NewRunner(recoverySvc, lock, cfg.Recovery.Interval, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create recovery runner", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Recovery.Interval.String(),
	})
	logg.Info(ctx, "starting recovery worker")

	runner.Run(ctx)

	logg.Info(ctx, "recovery worker shutting down gracefully")
}
