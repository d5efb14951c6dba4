package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/service"
)

// DunningJobHandler handles dunning-related background jobs
type DunningJobHandler struct {
	dunningService *service.DunningService
	mailer         service.Mailer
	logger         *zap.Logger
}

// NewDunningJobHandler creates a new dunning job handler.
// dunningService is nil when no billing store is configured.
func NewDunningJobHandler(dunningService *service.DunningService, mailer service.Mailer, logger *zap.Logger) *DunningJobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DunningJobHandler{
		dunningService: dunningService,
		mailer:         mailer,
		logger:         logger,
	}
}

// HandleRunDunningPass runs one batch pass
func (h *DunningJobHandler) HandleRunDunningPass(ctx context.Context, t *asynq.Task) error {
	if h.dunningService == nil {
		return fmt.Errorf("%w: %w", domainErrors.ErrStoreNotConfigured, asynq.SkipRetry)
	}

	result, err := h.dunningService.RunDunningPass(ctx)
	if errors.Is(err, domainErrors.ErrDunningPassInProgress) {
		h.logger.Info("Dunning pass already running, skipping tick")
		return nil
	}
	if err != nil {
		return fmt.Errorf("dunning pass failed: %w", err)
	}

	h.logger.Info("Scheduled dunning pass completed",
		zap.Int("reviewed", result.Reviewed),
		zap.Int("attempted", result.Attempted),
		zap.Int("canceled", result.Canceled),
	)
	return nil
}

// HandleSendDunningEmail delivers one queued dunning notice
func (h *DunningJobHandler) HandleSendDunningEmail(ctx context.Context, t *asynq.Task) error {
	var notice service.DunningNotice
	if err := json.Unmarshal(t.Payload(), &notice); err != nil {
		return fmt.Errorf("invalid dunning email payload: %v: %w", err, asynq.SkipRetry)
	}
	if h.mailer == nil {
		return fmt.Errorf("no mailer configured: %w", asynq.SkipRetry)
	}

	if err := h.mailer.SendDunningEmail(ctx, notice); err != nil {
		if errors.Is(err, domainErrors.ErrExternalServiceUnavailable) {
			return err
		}
		// Provider rejected the message; retrying will not help
		h.logger.Warn("Dunning email rejected",
			zap.Int("retry_count", notice.RetryCount),
			zap.Error(err),
		)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// TaskEnqueuer is the subset of *asynq.Client used to queue notices
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueMailer hands dunning notices to the worker instead of sending them inline
type QueueMailer struct {
	client   TaskEnqueuer
	maxRetry int
	timeout  time.Duration
}

// NewQueueMailer creates a mailer backed by the asynq queue
func NewQueueMailer(client TaskEnqueuer) *QueueMailer {
	return &QueueMailer{
		client:   client,
		maxRetry: 5,
		timeout:  30 * time.Second,
	}
}

// SendDunningEmail enqueues the notice
func (m *QueueMailer) SendDunningEmail(ctx context.Context, notice service.DunningNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal dunning notice: %w", err)
	}

	task := asynq.NewTask(TypeSendDunningEmail, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(m.maxRetry),
		asynq.Timeout(m.timeout),
	)
	if _, err := m.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue dunning email: %w", err)
	}
	return nil
}
