package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"pdfdispatch/internal/config"
	"pdfdispatch/internal/database"
	"pdfdispatch/internal/metrics"
	"pdfdispatch/internal/notify"
	"pdfdispatch/internal/pdf"
	"pdfdispatch/internal/storage"
	"pdfdispatch/internal/tasks"
	"pdfdispatch/internal/worker"
)

func main() {
	cfg := config.MustLoad(config.ScopeWorkerProcess)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	storageClient, err := storage.NewClient(cfg.Storage)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready",
		slog.String("bucket", storageClient.Bucket()),
		slog.String("endpoint", cfg.Storage.Endpoint),
	)

	notifier, err := notify.New(cfg.Notify, notify.Deps{Redis: redisClient}, logger)
	if err != nil {
		log.Fatalf("init notifier: %v", err)
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Error("close notifier failed", slog.Any("error", err))
		}
	}()

	opts := worker.Options{
		PresignTTL:  cfg.Storage.PresignTTL,
		Concurrency: cfg.Worker.BatchConcurrency,
		Logger:      logger,
	}
	if cfg.Database.Enabled {
		db, err := database.InitDatabase(cfg.Database)
		if err != nil {
			log.Fatalf("init database: %v", err)
		}
		ledger, err := database.NewLedger(db)
		if err != nil {
			log.Fatalf("init delivery ledger: %v", err)
		}
		opts.Recorder = ledger
		logger.Info("delivery ledger enabled", slog.String("db", cfg.Database.Name))
	}

	coordinator := worker.NewCoordinator(pdf.NewRenderer(), storageClient, notifier, opts)
	handler := worker.NewBatchHandler(coordinator, logger)

	shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(ctx)
	}()

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency:      cfg.Worker.Concurrency,
		Queues:           map[string]int{cfg.Worker.Queue: 1},
		GroupAggregator:  asynq.GroupAggregatorFunc(tasks.AggregateDocuments),
		GroupMaxSize:     cfg.Worker.GroupMaxSize,
		GroupMaxDelay:    cfg.Worker.GroupMaxDelay,
		GroupGracePeriod: time.Second,
		Logger:           newAsynqLogger(logger),
	})

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeDocumentBatch, handler)
	mux.Handle(tasks.TypeDocumentRequest, handler)

	logger.Info("worker service started",
		slog.String("redis_addr", redisAddr),
		slog.String("queue", cfg.Worker.Queue),
		slog.String("strategy", string(notifier.Strategy())),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
