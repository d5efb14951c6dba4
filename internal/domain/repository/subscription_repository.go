package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sofia-platform/billing/internal/domain/entity"
)

// SubscriptionUpdate describes a partial subscription write.
// MetadataPatch is merged into the stored metadata; keys it does not name are preserved.
type SubscriptionUpdate struct {
	ID            uuid.UUID
	Status        *entity.SubscriptionStatus
	CanceledAt    *time.Time
	MetadataPatch entity.Metadata

	// Guard, when set, makes the write conditional on the stored retry_count
	// still matching; a mismatch yields errors.ErrConcurrentUpdate.
	Guard *entity.RetryCountGuard
}

// SubscriptionRepository defines the interface for subscription data access
type SubscriptionRepository interface {
	// GetByID retrieves a subscription by ID
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Subscription, error)

	// ListByStatuses retrieves at most limit subscriptions whose status is in statuses
	ListByStatuses(ctx context.Context, statuses []entity.SubscriptionStatus, limit int) ([]*entity.Subscription, error)

	// Update applies a partial update to a subscription
	Update(ctx context.Context, update SubscriptionUpdate) error
}
