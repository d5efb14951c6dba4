package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sofia-platform/billing/internal/domain/entity"
	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/repository"
)

// DunningLeaseKey names the lease that serializes dunning passes across processes.
const DunningLeaseKey = "dunning:pass:lease"

// Per-subscription outcomes reported to the recorder
const (
	OutcomeRetried  = "retried"
	OutcomeCanceled = "canceled"
	OutcomeSkipped  = "skipped"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
)

// DunningConfig holds the externally configurable dunning parameters
type DunningConfig struct {
	SiteURL     string
	BatchSize   int
	Statuses    []entity.SubscriptionStatus
	CallTimeout time.Duration
	LeaseTTL    time.Duration
}

// DefaultDunningConfig returns the default dunning configuration
func DefaultDunningConfig() DunningConfig {
	return DunningConfig{
		SiteURL:     "http://localhost:3000",
		BatchSize:   500,
		Statuses:    entity.DunningStatuses,
		CallTimeout: 10 * time.Second,
		LeaseTTL:    15 * time.Minute,
	}
}

// Notifier sends dunning notices; NotificationService is the production implementation
type Notifier interface {
	SendDunningNotice(ctx context.Context, notice DunningNotice) error
}

// PassLease guards against two dunning passes running at the same time
type PassLease interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// DunningRecorder receives dunning counters for metrics
type DunningRecorder interface {
	ObserveSubscription(outcome string)
	ObservePass(result string, reviewed int, duration time.Duration)
	ObserveNotification(result string)
}

// DunningOutcome is the persisted result of one processing step
type DunningOutcome struct {
	SubscriptionID uuid.UUID
	UserID         uuid.UUID
	Canceled       bool
	RetryCount     int
	NextRetryAt    *time.Time
	CanceledAt     *time.Time
}

// DunningPassResult aggregates one batch pass
type DunningPassResult struct {
	Attempted  int
	Canceled   int
	Reviewed   int
	Skipped    int
	Conflicts  int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the pass took
func (r *DunningPassResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// DunningOption customizes a DunningService
type DunningOption func(*DunningService)

// WithLease serializes passes behind the given lease
func WithLease(lease PassLease) DunningOption {
	return func(s *DunningService) { s.lease = lease }
}

// WithRecorder reports counters to the given recorder
func WithRecorder(recorder DunningRecorder) DunningOption {
	return func(s *DunningService) { s.recorder = recorder }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) DunningOption {
	return func(s *DunningService) { s.now = now }
}

// DunningService handles dunning management
type DunningService struct {
	subscriptionRepo repository.SubscriptionRepository
	transactionRepo  repository.TransactionRepository
	notifier         Notifier
	lease            PassLease
	recorder         DunningRecorder
	cfg              DunningConfig
	logger           *zap.Logger
	now              func() time.Time
}

// NewDunningService creates a new dunning service
func NewDunningService(
	subscriptionRepo repository.SubscriptionRepository,
	transactionRepo repository.TransactionRepository,
	notifier Notifier,
	cfg DunningConfig,
	logger *zap.Logger,
	opts ...DunningOption,
) *DunningService {
	defaults := DefaultDunningConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if len(cfg.Statuses) == 0 {
		cfg.Statuses = defaults.Statuses
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = defaults.SiteURL
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaults.LeaseTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &DunningService{
		subscriptionRepo: subscriptionRepo,
		transactionRepo:  transactionRepo,
		notifier:         notifier,
		recorder:         nopRecorder{},
		cfg:              cfg,
		logger:           logger,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration
func (s *DunningService) Config() DunningConfig {
	return s.cfg
}

// ProcessSubscription advances one subscription's dunning state by exactly one attempt.
// Store failures are returned; notification failures are only logged.
func (s *DunningService) ProcessSubscription(ctx context.Context, sub *entity.Subscription) (*DunningOutcome, error) {
	now := s.now()
	previous := sub.Metadata.Dunning()
	attempt := previous.RetryCount + 1
	plan := entity.ComputeRetryPlan(now, attempt)

	next := entity.DunningState{RetryCount: attempt, NextRetryAt: plan.NextRetryAt}
	patch := entity.DunningPatch(next)
	guard := sub.Metadata.RetryCountGuard()

	update := repository.SubscriptionUpdate{
		ID:            sub.ID,
		MetadataPatch: patch,
		Guard:         &guard,
	}

	var canceledAt *time.Time
	if plan.Cancels() {
		status := entity.StatusCanceled
		canceledAt = &now
		update.Status = &status
		update.CanceledAt = canceledAt
	}

	if err := s.call(ctx, func(ctx context.Context) error {
		return s.subscriptionRepo.Update(ctx, update)
	}); err != nil {
		return nil, fmt.Errorf("failed to update subscription %s: %w", sub.ID, err)
	}
	sub.ApplyDunning(next, canceledAt)

	if err := s.mirrorToLatestTransaction(ctx, sub.UserID, patch); err != nil {
		return nil, err
	}

	s.notify(ctx, sub, next, canceledAt)

	s.logger.Info("dunning attempt processed",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", sub.UserID.String()),
		zap.Int("retry_count", attempt),
		zap.Timep("next_retry_at", plan.NextRetryAt),
		zap.Bool("canceled", plan.Cancels()),
	)

	return &DunningOutcome{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Canceled:       plan.Cancels(),
		RetryCount:     attempt,
		NextRetryAt:    plan.NextRetryAt,
		CanceledAt:     canceledAt,
	}, nil
}

// ProcessSubscriptionByID forces one dunning attempt for a single subscription,
// ignoring its schedule but not its retry budget.
func (s *DunningService) ProcessSubscriptionByID(ctx context.Context, id uuid.UUID) (*DunningOutcome, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var sub *entity.Subscription
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		sub, err = s.subscriptionRepo.GetByID(ctx, id)
		return err
	}); err != nil {
		return nil, err
	}

	switch {
	case sub.IsCanceled():
		return nil, domainErrors.ErrSubscriptionCanceled
	case !sub.IsInDunning():
		return nil, domainErrors.ErrSubscriptionNotInDunning
	case sub.Dunning().IsExhausted():
		return nil, domainErrors.ErrDunningExhausted
	}

	outcome, err := s.ProcessSubscription(ctx, sub)
	if err != nil {
		s.recorder.ObserveSubscription(outcomeForError(err))
		return nil, err
	}
	s.recorder.ObserveSubscription(outcomeLabel(outcome))
	return outcome, nil
}

// RunDunningPass processes every due past_due/unpaid subscription once, sequentially.
// Listing failures abort the pass; per-subscription failures are logged and counted.
// The pass never outlives its lease: it is cut off after LeaseTTL whichever path triggered it.
func (s *DunningService) RunDunningPass(ctx context.Context) (*DunningPassResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.LeaseTTL)
	defer cancel()

	result := &DunningPassResult{StartedAt: s.now()}

	var subs []*entity.Subscription
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		subs, err = s.subscriptionRepo.ListByStatuses(ctx, s.cfg.Statuses, s.cfg.BatchSize)
		return err
	}); err != nil {
		result.FinishedAt = s.now()
		s.recorder.ObservePass("error", 0, result.Duration())
		return nil, fmt.Errorf("failed to list dunning subscriptions: %w", err)
	}
	result.Reviewed = len(subs)

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			result.FinishedAt = s.now()
			s.recorder.ObservePass("aborted", result.Reviewed, result.Duration())
			return result, fmt.Errorf("dunning pass interrupted: %w", err)
		}

		if !sub.Dunning().IsDue(result.StartedAt) {
			result.Skipped++
			s.recorder.ObserveSubscription(OutcomeSkipped)
			continue
		}

		outcome, err := s.ProcessSubscription(ctx, sub)
		if err != nil {
			s.recordFailure(result, sub, err)
			continue
		}

		result.Attempted++
		if outcome.Canceled {
			result.Canceled++
		}
		s.recorder.ObserveSubscription(outcomeLabel(outcome))
	}

	result.FinishedAt = s.now()
	s.recorder.ObservePass("success", result.Reviewed, result.Duration())

	s.logger.Info("dunning pass finished",
		zap.Int("reviewed", result.Reviewed),
		zap.Int("attempted", result.Attempted),
		zap.Int("canceled", result.Canceled),
		zap.Int("skipped", result.Skipped),
		zap.Int("conflicts", result.Conflicts),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration()),
	)

	return result, nil
}

func (s *DunningService) recordFailure(result *DunningPassResult, sub *entity.Subscription, err error) {
	if errors.Is(err, domainErrors.ErrConcurrentUpdate) {
		result.Conflicts++
		s.recorder.ObserveSubscription(OutcomeConflict)
		s.logger.Warn("dunning subscription changed concurrently, skipping",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err),
		)
		return
	}

	result.Failed++
	s.recorder.ObserveSubscription(OutcomeFailed)
	s.logger.Error("dunning attempt failed",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", sub.UserID.String()),
		zap.Error(err),
	)
}

func (s *DunningService) mirrorToLatestTransaction(ctx context.Context, userID uuid.UUID, patch entity.Metadata) error {
	var txn *entity.Transaction
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		txn, err = s.transactionRepo.GetLatestByUserID(ctx, userID)
		return err
	}); err != nil {
		return fmt.Errorf("failed to get latest transaction for user %s: %w", userID, err)
	}
	if txn == nil {
		return nil
	}

	if err := s.call(ctx, func(ctx context.Context) error {
		return s.transactionRepo.MergeMetadata(ctx, txn.ID, patch)
	}); err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", txn.ID, err)
	}
	txn.Metadata = txn.Metadata.Merge(patch)
	return nil
}

// notify runs detached from the caller's cancellation; its result is only logged.
func (s *DunningService) notify(ctx context.Context, sub *entity.Subscription, state entity.DunningState, cancelAt *time.Time) {
	if s.notifier == nil {
		return
	}

	notice := DunningNotice{
		To:          sub.UserEmail,
		RetryCount:  state.RetryCount,
		NextRetryAt: state.NextRetryAt,
		CancelAt:    cancelAt,
		PaymentURL:  PaymentURL(s.cfg.SiteURL),
	}

	err := s.call(context.WithoutCancel(ctx), func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("notifier panic: %v", r)
			}
		}()
		return s.notifier.SendDunningNotice(ctx, notice)
	})
	if err != nil {
		s.recorder.ObserveNotification("failed")
		s.logger.Warn("dunning notification failed",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("user_id", sub.UserID.String()),
			zap.Int("retry_count", state.RetryCount),
			zap.Error(err),
		)
		return
	}
	s.recorder.ObserveNotification("sent")
}

func (s *DunningService) acquire(ctx context.Context) (func(), error) {
	if s.lease == nil {
		return func() {}, nil
	}
	release, acquired, err := s.lease.TryAcquire(ctx, DunningLeaseKey, s.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire dunning lease: %w", err)
	}
	if !acquired {
		return nil, domainErrors.ErrDunningPassInProgress
	}
	return release, nil
}

// call runs fn under the per-call deadline
func (s *DunningService) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return fn(ctx)
}

func outcomeLabel(outcome *DunningOutcome) string {
	if outcome.Canceled {
		return OutcomeCanceled
	}
	return OutcomeRetried
}

func outcomeForError(err error) string {
	if errors.Is(err, domainErrors.ErrConcurrentUpdate) {
		return OutcomeConflict
	}
	return OutcomeFailed
}

type nopRecorder struct{}

func (nopRecorder) ObserveSubscription(string)             {}
func (nopRecorder) ObservePass(string, int, time.Duration) {}
func (nopRecorder) ObserveNotification(string)             {}
