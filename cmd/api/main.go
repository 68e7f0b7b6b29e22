package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukalink/dukalink-backend/api"
	"github.com/dukalink/dukalink-backend/api/routes"
	"github.com/dukalink/dukalink-backend/internal/bidding"
	"github.com/dukalink/dukalink-backend/internal/credit"
	"github.com/dukalink/dukalink-backend/internal/ingest"
	"github.com/dukalink/dukalink-backend/internal/ledger"
	"github.com/dukalink/dukalink-backend/internal/orders"
	"github.com/dukalink/dukalink-backend/internal/queue"
	"github.com/dukalink/dukalink-backend/internal/stock"
	"github.com/dukalink/dukalink-backend/pkg/config"
	"github.com/dukalink/dukalink-backend/pkg/db"
	"github.com/dukalink/dukalink-backend/pkg/logger"
	"github.com/dukalink/dukalink-backend/pkg/migrate"
	"github.com/dukalink/dukalink-backend/pkg/redis"
	"github.com/dukalink/dukalink-backend/pkg/retry"
)

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
	inboundRepo := ingest.NewRepository(dbClient.DB())

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

	queueSvc, err := queue.NewService(queueRepo, retryPolicy(cfg), cfg.Queues.MaxAttempts, nil, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create queue service", err)
		os.Exit(1)
	}

	biddingSvc, err := bidding.NewService(dbClient, offerRepo, orderRepo, orderSvc, queueSvc, creditRepo, cfg.Bidding.DefaultWindow, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create bidding service", err)
		os.Exit(1)
	}

	ingestSvc, err := ingest.NewService(dbClient, inboundRepo, queueSvc, cfg.Ingest.ReplayWindow, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create ingest service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	handler := routes.NewRouter(cfg, logg, dbClient, redisClient, registry, creditSvc, orderSvc, biddingSvc, ingestSvc, queueRepo)
	server := api.NewServer(cfg, handler, logg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"port": cfg.App.Port,
	})
	logg.Info(ctx, "starting api server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "error shutting down api server", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shutting down gracefully")
}

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Queues.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Multiplier:  cfg.Retry.Multiplier,
		MaxDelay:    cfg.Retry.MaxDelay,
		JitterRatio: cfg.Retry.JitterRatio,
	}
}
