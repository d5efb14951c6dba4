package query

import (
	"context"
	"fmt"
	"time"

	"github.com/sofia-platform/billing/internal/application/dto"
	"github.com/sofia-platform/billing/internal/domain/entity"
	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/repository"
	"github.com/sofia-platform/billing/internal/domain/service"
)

// ListDunningSubscriptionsQuery previews the subscriptions a pass would review, without writing
type ListDunningSubscriptionsQuery struct {
	subscriptionRepo repository.SubscriptionRepository
	cfg              service.DunningConfig
	now              func() time.Time
}

// NewListDunningSubscriptionsQuery creates a new list dunning subscriptions query.
// A nil repository means the billing store is not configured.
func NewListDunningSubscriptionsQuery(subscriptionRepo repository.SubscriptionRepository, cfg service.DunningConfig) *ListDunningSubscriptionsQuery {
	if len(cfg.Statuses) == 0 {
		cfg.Statuses = entity.DunningStatuses
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = service.DefaultDunningConfig().BatchSize
	}
	return &ListDunningSubscriptionsQuery{
		subscriptionRepo: subscriptionRepo,
		cfg:              cfg,
		now:              time.Now,
	}
}

// Execute lists up to limit subscriptions; limit <= 0 or above the batch size uses the batch size
func (q *ListDunningSubscriptionsQuery) Execute(ctx context.Context, limit int) (*dto.DunningPreviewResponse, error) {
	if q.subscriptionRepo == nil {
		return nil, domainErrors.ErrStoreNotConfigured
	}
	if limit <= 0 || limit > q.cfg.BatchSize {
		limit = q.cfg.BatchSize
	}

	subs, err := q.subscriptionRepo.ListByStatuses(ctx, q.cfg.Statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dunning subscriptions: %w", err)
	}

	now := q.now()
	resp := &dto.DunningPreviewResponse{
		Subscriptions: make([]dto.DunningSubscriptionResponse, 0, len(subs)),
		Reviewed:      len(subs),
		GeneratedAt:   entity.FormatTimestamp(now),
	}
	for _, sub := range subs {
		item := toDunningResponse(sub, now)
		if item.Due {
			resp.Due++
		}
		resp.Subscriptions = append(resp.Subscriptions, item)
	}
	return resp, nil
}

func toDunningResponse(sub *entity.Subscription, now time.Time) dto.DunningSubscriptionResponse {
	state := sub.Dunning()
	item := dto.DunningSubscriptionResponse{
		ID:         sub.ID.String(),
		UserID:     sub.UserID.String(),
		Status:     string(sub.Status),
		RetryCount: state.RetryCount,
		Due:        state.IsDue(now),
		Exhausted:  state.IsExhausted(),
	}
	if state.NextRetryAt != nil {
		s := entity.FormatTimestamp(*state.NextRetryAt)
		item.NextRetryAt = &s
	}
	return item
}
