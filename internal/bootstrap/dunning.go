// Package bootstrap assembles the dunning engine from configuration.
// Both the API and the worker binaries build their collaborators here.
package bootstrap

import (
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/sofia-platform/billing/internal/domain/service"
	"github.com/sofia-platform/billing/internal/infrastructure/config"
	"github.com/sofia-platform/billing/internal/infrastructure/external/email"
	"github.com/sofia-platform/billing/internal/infrastructure/persistence"
	"github.com/sofia-platform/billing/internal/worker/tasks"
)

// DunningConfig maps the process configuration onto the engine's settings
func DunningConfig(cfg *config.Config) service.DunningConfig {
	dc := service.DefaultDunningConfig()
	dc.SiteURL = cfg.Dunning.SiteURL
	dc.BatchSize = cfg.Dunning.BatchSize
	dc.CallTimeout = cfg.Dunning.CallTimeout
	dc.LeaseTTL = cfg.Dunning.LeaseTTL
	return dc
}

// NewDirectMailer sends through Resend when an API key is set, otherwise only logs
func NewDirectMailer(cfg config.EmailConfig, logger *zap.Logger) (service.Mailer, error) {
	if cfg.ResendAPIKey == "" {
		logger.Warn("EMAIL_RESEND_API_KEY not set, dunning emails will only be logged")
		return email.NewLogMailer(logger), nil
	}
	return email.NewResendMailer(email.Config{
		APIKey:  cfg.ResendAPIKey,
		BaseURL: cfg.ResendURL,
		From:    cfg.From,
		Timeout: cfg.Timeout,
	}, logger)
}

// NewMailer returns the queue mailer when EMAIL_QUEUE is on and a client is given,
// otherwise the direct mailer.
func NewMailer(cfg config.EmailConfig, queue *asynq.Client, logger *zap.Logger) (service.Mailer, error) {
	if cfg.Queue && queue != nil {
		return tasks.NewQueueMailer(queue), nil
	}
	return NewDirectMailer(cfg, logger)
}

// NewDunningService wires the engine onto an opened store.
// It returns nil when store is nil so callers can surface ErrStoreNotConfigured per request.
func NewDunningService(
	store *persistence.Store,
	cfg *config.Config,
	mailer service.Mailer,
	logger *zap.Logger,
	opts ...service.DunningOption,
) *service.DunningService {
	if store == nil {
		return nil
	}
	notifier := service.NewNotificationService(mailer, logger.With(zap.String("component", "notification")))
	return service.NewDunningService(
		store.Subscriptions,
		store.Transactions,
		notifier,
		DunningConfig(cfg),
		logger.With(zap.String("component", "dunning")),
		opts...,
	)
}
