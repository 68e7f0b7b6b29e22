package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukalink/dukalink-backend/internal/bidding"
	"github.com/dukalink/dukalink-backend/internal/credit"
	"github.com/dukalink/dukalink-backend/internal/ingest"
	"github.com/dukalink/dukalink-backend/internal/ledger"
	"github.com/dukalink/dukalink-backend/internal/orders"
	"github.com/dukalink/dukalink-backend/internal/queue"
	"github.com/dukalink/dukalink-backend/internal/queue/handlers"
	"github.com/dukalink/dukalink-backend/internal/stock"
	"github.com/dukalink/dukalink-backend/pkg/config"
	"github.com/dukalink/dukalink-backend/pkg/db"
	"github.com/dukalink/dukalink-backend/pkg/logger"
	"github.com/dukalink/dukalink-backend/pkg/metrics"
	"github.com/dukalink/dukalink-backend/pkg/migrate"
	"github.com/dukalink/dukalink-backend/pkg/pubsub"
	"github.com/dukalink/dukalink-backend/pkg/retry"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	queueMetrics := metrics.NewQueueMetrics(prometheus.DefaultRegisterer)

	queueSvc, err := queue.NewService(queueRepo, policyFromConfig(cfg), cfg.Queues.MaxAttempts, queueMetrics, logg)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})

	var publisher handlers.ReplyPublisher
	var pubsubClient *pubsub.Client
	if cfg.PubSub.ProjectID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		publisher = pubsubClient
	} else {
		logg.Warn(ctx, "pubsub project not configured, replies are logged only")
		publisher = &logPublisher{logg: logg}
	}

	ingestHandler, err := handlers.NewIngestHandler(dbClient, orderSvc, queueSvc, logg)
	if err != nil {
		logg.Error(ctx, "failed to create ingest handler", err)
		os.Exit(1)
	}
	orderHandler, err := handlers.NewOrderProcessingHandler(orderSvc, biddingSvc, queueSvc, logg)
	if err != nil {
		logg.Error(ctx, "failed to create order processing handler", err)
		os.Exit(1)
	}
	routingHandler, err := handlers.NewVendorRoutingHandler(orderSvc, queueSvc, logg)
	if err != nil {
		logg.Error(ctx, "failed to create vendor routing handler", err)
		os.Exit(1)
	}
	replyHandler, err := handlers.NewReplyHandler(publisher, logg)
	if err != nil {
		logg.Error(ctx, "failed to create reply handler", err)
		os.Exit(1)
	}

	pool, err := queue.NewPool(
		queueRepo,
		queueSvc,
		[]queue.Handler{ingestHandler, orderHandler, routingHandler, replyHandler},
		cfg.Queues,
		queueMetrics,
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create worker pool", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting worker")

	var wg sync.WaitGroup
	if pubsubClient != nil {
		consumer, err := ingest.NewConsumer(pubsubClient.InboundSubscription(), ingestSvc, logg)
		if err != nil {
			logg.Error(ctx, "failed to create ingest consumer", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "ingest consumer stopped unexpectedly", err)
				stop()
			}
		}()
	}

	pool.Run(ctx)
	wg.Wait()

	logg.Info(ctx, "worker shutting down gracefully")
}

func policyFromConfig(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Queues.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Multiplier:  cfg.Retry.Multiplier,
		MaxDelay:    cfg.Retry.MaxDelay,
		JitterRatio: cfg.Retry.JitterRatio,
	}
}

// logPublisher stands in for Pub/Sub in local development: outbound replies
// are written to the log instead of the gateway topic.
type logPublisher struct {
	logg *logger.Logger
}

func (p *logPublisher) PublishReply(ctx context.Context, data []byte, attrs map[string]string) error {
	logCtx := p.logg.WithFields(ctx, map[string]any{
		"recipient": attrs["recipient"],
		"body":      string(data),
	})
	p.logg.Info(logCtx, "reply published (log only)")
	return nil
}
