package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/sofia-platform/billing/internal/domain/entity"
)

// TransactionRepository defines the interface for transaction data access
type TransactionRepository interface {
	// GetLatestByUserID retrieves the most recently created transaction of a user.
	// Returns nil, nil when the user has no transactions.
	GetLatestByUserID(ctx context.Context, userID uuid.UUID) (*entity.Transaction, error)

	// MergeMetadata merges patch into the transaction metadata
	MergeMetadata(ctx context.Context, id uuid.UUID, patch entity.Metadata) error
}
