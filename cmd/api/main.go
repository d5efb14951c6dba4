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

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sofia-platform/billing/internal/application/command"
	"github.com/sofia-platform/billing/internal/application/middleware"
	"github.com/sofia-platform/billing/internal/application/query"
	"github.com/sofia-platform/billing/internal/bootstrap"
	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/service"
	"github.com/sofia-platform/billing/internal/infrastructure/cache"
	"github.com/sofia-platform/billing/internal/infrastructure/config"
	"github.com/sofia-platform/billing/internal/infrastructure/logging"
	"github.com/sofia-platform/billing/internal/infrastructure/metrics"
	"github.com/sofia-platform/billing/internal/infrastructure/persistence"
	"github.com/sofia-platform/billing/internal/interfaces/http/handlers"
	"github.com/sofia-platform/billing/internal/worker/scheduler"
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

	logging.Logger.Info("Starting SOFIA billing API",
		zap.Int("port", cfg.Server.Port),
		zap.String("environment", cfg.Sentry.Environment),
	)

	ctx := context.Background()

	// Billing store. Missing credentials are reported per request, not at boot.
	store, err := persistence.Open(ctx, cfg, logging.Logger)
	switch {
	case errors.Is(err, domainErrors.ErrStoreNotConfigured):
		logging.Logger.Warn("No billing store configured, dunning endpoints will fail until DATABASE_URL or SUPABASE_URL is set")
	case err != nil:
		logging.Logger.Fatal("Failed to open billing store", zap.Error(err))
	default:
		defer store.Close()
	}

	// Redis is optional: it backs the pass lease, rate limiting, token revocation and the email queue
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = cache.NewRedisClient(cfg.Redis)
		if err != nil {
			logging.Logger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()

		if err := cache.Ping(ctx, redisClient); err != nil {
			logging.Logger.Fatal("Failed to ping Redis", zap.Error(err))
		}
	}

	var lease service.PassLease = cache.NewLocalLease()
	var queueClient *asynq.Client
	if redisClient != nil {
		lease = cache.NewRedisLease(redisClient, logging.WithComponent("lease"))
		queueClient = asynq.NewClientFromRedisClient(redisClient)
	}

	mailer, err := bootstrap.NewMailer(cfg.Email, queueClient, logging.WithComponent("email"))
	if err != nil {
		logging.Logger.Fatal("Failed to initialize mailer", zap.Error(err))
	}

	collector := metrics.NewCollector()

	var dunningService *service.DunningService
	var listQuery *query.ListDunningSubscriptionsQuery
	if store != nil {
		dunningService = bootstrap.NewDunningService(store, cfg, mailer, logging.Logger,
			service.WithLease(lease),
			service.WithRecorder(collector),
		)
		listQuery = query.NewListDunningSubscriptionsQuery(store.Subscriptions, bootstrap.DunningConfig(cfg))
	} else {
		listQuery = query.NewListDunningSubscriptionsQuery(nil, bootstrap.DunningConfig(cfg))
	}

	dunningHandler := handlers.NewDunningHandler(
		command.NewRunDunningPassCommand(dunningService),
		command.NewProcessDunningSubscriptionCommand(dunningService),
		listQuery,
	)

	// Setup Gin router
	if cfg.Sentry.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		logging.RequestMiddleware(logging.Logger),
		collector.GinMiddleware(),
	)

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(collector.Handler()))

	verifier := middleware.NewJWTVerifier(cfg.JWT.Secret, cfg.JWT.Issuer, redisClient, logging.WithComponent("auth"))
	if cfg.Dunning.AdminToken == "" && verifier == nil {
		logging.Logger.Warn("Neither DUNNING_ADMIN_TOKEN nor JWT_SECRET is set, dunning run endpoint will reject every call")
	}

	protect := []gin.HandlerFunc{middleware.DunningAdminAuth(cfg.Dunning.AdminToken, verifier)}
	if redisClient != nil && cfg.Dunning.RunRateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(redisClient, true, logging.WithComponent("ratelimit"))
		protect = append(protect, rateLimiter.Middleware(middleware.ByIPAndEndpoint, middleware.PerMinute(cfg.Dunning.RunRateLimit)))
	}
	dunningHandler.RegisterRoutes(router, protect...)

	// In-process cron for deployments without the asynq worker
	var embedded *scheduler.Embedded
	if cfg.Dunning.EmbeddedScheduler && dunningService != nil {
		embedded, err = scheduler.NewEmbedded(cfg.Dunning.Schedule, dunningService, cfg.Dunning.LeaseTTL, logging.WithComponent("scheduler"))
		if err != nil {
			logging.Logger.Fatal("Failed to create embedded scheduler", zap.Error(err))
		}
		embedded.Start()
	}

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	go func() {
		logging.Logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if embedded != nil {
		embedded.Stop(shutdownCtx)
	}
	if queueClient != nil {
		_ = queueClient.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logging.Logger.Info("Server exited")
}
