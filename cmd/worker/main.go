package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/sofia-platform/billing/internal/bootstrap"
	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/service"
	"github.com/sofia-platform/billing/internal/infrastructure/cache"
	"github.com/sofia-platform/billing/internal/infrastructure/config"
	"github.com/sofia-platform/billing/internal/infrastructure/logging"
	"github.com/sofia-platform/billing/internal/infrastructure/metrics"
	"github.com/sofia-platform/billing/internal/infrastructure/persistence"
	worker_tasks "github.com/sofia-platform/billing/internal/worker/tasks"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logging.Init(&cfg.Sentry); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Sync()

	logging.Logger.Info("Starting SOFIA billing worker")

	if !cfg.Redis.Enabled() {
		logging.Logger.Fatal("REDIS_URL is required for the worker")
	}

	ctx := context.Background()

	store, err := persistence.Open(ctx, cfg, logging.Logger)
	switch {
	case errors.Is(err, domainErrors.ErrStoreNotConfigured):
		logging.Logger.Warn("No billing store configured, dunning passes will be dropped")
	case err != nil:
		logging.Logger.Fatal("Failed to open billing store", zap.Error(err))
	default:
		defer store.Close()
	}

	// Initialize Redis
	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		logging.Logger.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	// Test Redis connection
	if err := cache.Ping(ctx, redisClient); err != nil {
		logging.Logger.Fatal("Failed to ping Redis", zap.Error(err))
	}

	// The worker always delivers directly; queued notices end up here
	mailer, err := bootstrap.NewDirectMailer(cfg.Email, logging.WithComponent("email"))
	if err != nil {
		logging.Logger.Fatal("Failed to initialize mailer", zap.Error(err))
	}

	collector := metrics.NewCollector()
	dunningService := bootstrap.NewDunningService(store, cfg, mailer, logging.Logger,
		service.WithLease(cache.NewRedisLease(redisClient, logging.WithComponent("lease"))),
		service.WithRecorder(collector),
	)
	jobHandler := worker_tasks.NewDunningJobHandler(dunningService, mailer, logging.WithComponent("worker"))

	// Initialize Asynq server
	server := asynq.NewServerFromRedisClient(redisClient, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			worker_tasks.QueueCritical: 6,
			worker_tasks.QueueDefault:  3,
			worker_tasks.QueueLow:      1,
		},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			// Exponential backoff: 2^n seconds
			return time.Duration(1<<uint(n)) * time.Second
		},
		Logger: logging.WithComponent("asynq").Sugar(),
	})

	// Register task handlers
	mux := asynq.NewServeMux()
	worker_tasks.RegisterHandlers(mux, jobHandler)

	// Start server in background
	if err := server.Start(mux); err != nil {
		logging.Logger.Fatal("Failed to start worker", zap.Error(err))
	}

	// Register scheduled tasks
	scheduler := asynq.NewSchedulerFromRedisClient(redisClient, &asynq.SchedulerOpts{
		Logger: logging.WithComponent("asynq-scheduler").Sugar(),
	})
	if err := worker_tasks.RegisterScheduledTasks(scheduler, cfg.Dunning.Schedule, cfg.Dunning.LeaseTTL); err != nil {
		logging.Logger.Fatal("Failed to schedule dunning pass", zap.Error(err))
	}

	// Start scheduler
	if err := scheduler.Start(); err != nil {
		logging.Logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Worker metrics
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Worker.MetricsPort), Handler: collector.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	logging.Logger.Info("Worker started successfully", zap.String("dunning_schedule", cfg.Dunning.Schedule))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info("Shutting down worker...")

	scheduler.Shutdown()
	server.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logging.Logger.Info("Worker exited")
}
