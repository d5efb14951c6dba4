package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sofia-platform/billing/internal/application/dto"
	"github.com/sofia-platform/billing/internal/domain/entity"
	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/service"
)

// RunDunningPassCommand triggers one batch pass
type RunDunningPassCommand struct {
	dunningService *service.DunningService
}

// NewRunDunningPassCommand creates a new run dunning pass command.
// A nil service means the billing store is not configured.
func NewRunDunningPassCommand(dunningService *service.DunningService) *RunDunningPassCommand {
	return &RunDunningPassCommand{
		dunningService: dunningService,
	}
}

// Execute runs the pass and maps the result to the response body
func (c *RunDunningPassCommand) Execute(ctx context.Context) (*dto.RunDunningResponse, error) {
	if c.dunningService == nil {
		return nil, domainErrors.ErrStoreNotConfigured
	}

	result, err := c.dunningService.RunDunningPass(ctx)
	if err != nil {
		return nil, err
	}

	return &dto.RunDunningResponse{
		Success:    true,
		Attempted:  result.Attempted,
		Canceled:   result.Canceled,
		Reviewed:   result.Reviewed,
		Skipped:    result.Skipped,
		Conflicts:  result.Conflicts,
		Failed:     result.Failed,
		DurationMs: result.Duration().Milliseconds(),
		Timestamp:  entity.FormatTimestamp(result.FinishedAt),
	}, nil
}

// ProcessDunningSubscriptionCommand forces one dunning attempt for a single subscription
type ProcessDunningSubscriptionCommand struct {
	dunningService *service.DunningService
}

// NewProcessDunningSubscriptionCommand creates a new process dunning subscription command
func NewProcessDunningSubscriptionCommand(dunningService *service.DunningService) *ProcessDunningSubscriptionCommand {
	return &ProcessDunningSubscriptionCommand{
		dunningService: dunningService,
	}
}

// Execute executes the process dunning subscription command
func (c *ProcessDunningSubscriptionCommand) Execute(ctx context.Context, subscriptionID string) (*dto.ProcessDunningResponse, error) {
	id, err := uuid.Parse(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid subscription ID", domainErrors.ErrInvalidInput)
	}
	if c.dunningService == nil {
		return nil, domainErrors.ErrStoreNotConfigured
	}

	outcome, err := c.dunningService.ProcessSubscriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return &dto.ProcessDunningResponse{
		SubscriptionID: outcome.SubscriptionID.String(),
		RetryCount:     outcome.RetryCount,
		Canceled:       outcome.Canceled,
		NextRetryAt:    formatOptional(outcome.NextRetryAt),
		CanceledAt:     formatOptional(outcome.CanceledAt),
	}, nil
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := entity.FormatTimestamp(*t)
	return &s
}
