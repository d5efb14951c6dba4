// Package scheduler runs the dunning pass in-process on a cron schedule,
// for deployments without a Redis-backed asynq worker.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/service"
)

// PassRunner runs one dunning pass
type PassRunner interface {
	RunDunningPass(ctx context.Context) (*service.DunningPassResult, error)
}

// Embedded triggers dunning passes from an in-process cron
type Embedded struct {
	cron    *cron.Cron
	runner  PassRunner
	timeout time.Duration
	logger  *zap.Logger
}

// NewEmbedded parses the standard five-field schedule and registers the pass.
// timeout bounds a single pass; zero means no bound.
func NewEmbedded(schedule string, runner PassRunner, timeout time.Duration, logger *zap.Logger) (*Embedded, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := zapCronLogger{logger.Sugar()}

	e := &Embedded{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		runner:  runner,
		timeout: timeout,
		logger:  logger,
	}

	if _, err := e.cron.AddFunc(schedule, func() { e.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return e, nil
}

// Start begins the cron loop in its own goroutine
func (e *Embedded) Start() {
	e.cron.Start()
	e.logger.Info("Embedded dunning scheduler started")
}

// Stop stops scheduling and waits for a running pass until ctx is done
func (e *Embedded) Stop(ctx context.Context) {
	select {
	case <-e.cron.Stop().Done():
	case <-ctx.Done():
		e.logger.Warn("Embedded dunning scheduler stop timed out")
	}
}

// RunOnce runs a single pass and logs its result
func (e *Embedded) RunOnce(ctx context.Context) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	result, err := e.runner.RunDunningPass(ctx)
	switch {
	case errors.Is(err, domainErrors.ErrDunningPassInProgress):
		e.logger.Info("Dunning pass already running elsewhere, skipping tick")
	case err != nil:
		e.logger.Error("Scheduled dunning pass failed", zap.Error(err))
	default:
		e.logger.Info("Scheduled dunning pass completed",
			zap.Int("reviewed", result.Reviewed),
			zap.Int("attempted", result.Attempted),
			zap.Int("canceled", result.Canceled),
		)
	}
}

type zapCronLogger struct {
	sugar *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
