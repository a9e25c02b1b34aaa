package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"pdfdispatch/internal/api"
	"pdfdispatch/internal/config"
	"pdfdispatch/internal/database"
)

func main() {
	cfg := config.MustLoad(config.ScopeAPI)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer asynqClient.Close()

	var deliveries api.DeliveryLister
	if cfg.Database.Enabled {
		db, err := database.InitDatabase(cfg.Database)
		if err != nil {
			log.Fatalf("init database: %v", err)
		}
		ledger, err := database.NewLedger(db)
		if err != nil {
			log.Fatalf("init delivery ledger: %v", err)
		}
		deliveries = ledger
		logger.Info("delivery ledger enabled", slog.String("db", cfg.Database.Name))
	}

	// 入口处的校验规则必须与 worker 一致：只有需要通知时收件人才是必填。
	requireRecipient := cfg.Notify.Strategy != config.StrategyNone
	documents := api.NewDocumentHandler(asynqClient, cfg.Worker.Queue, requireRecipient, redisClient, cfg.API.RateLimit, deliveries)

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, documents, cfg.API.Token)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening", slog.String("addr", server.Addr), slog.String("queue", cfg.Worker.Queue))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start api server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", slog.Any("error", err))
	}
}
