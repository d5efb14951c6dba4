package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sofia-platform/billing/internal/domain/entity"
	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/repository"
)

const subscriptionColumns = `id, user_id, user_email, status, metadata, canceled_at, created_at, updated_at`

// SubscriptionRepositoryImpl implements SubscriptionRepository using pgxpool
type SubscriptionRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepositoryImpl {
	return &SubscriptionRepositoryImpl{pool: pool}
}

// Create inserts a new subscription
func (r *SubscriptionRepositoryImpl) Create(ctx context.Context, sub *entity.Subscription) error {
	meta, err := json.Marshal(sub.Metadata.Clone())
	if err != nil {
		return fmt.Errorf("failed to encode subscription metadata: %w", err)
	}

	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		sub.ID, sub.UserID, sub.UserEmail, string(sub.Status), meta,
		sub.CanceledAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription by ID
func (r *SubscriptionRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entity.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domainErrors.NotFoundError{Entity: "subscription", ID: id.String(), Err: domainErrors.ErrSubscriptionNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListByStatuses retrieves the oldest subscriptions whose status is in statuses
func (r *SubscriptionRepositoryImpl) ListByStatuses(ctx context.Context, statuses []entity.SubscriptionStatus, limit int) ([]*entity.Subscription, error) {
	raw := make([]string, len(statuses))
	for i, s := range statuses {
		raw[i] = string(s)
	}

	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = ANY($1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, raw, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	results := make([]*entity.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		results = append(results, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	return results, nil
}

// Update merges the metadata patch and optionally sets status and canceled_at.
// With a guard, the row is only written if metadata.retry_count still holds the guarded value.
func (r *SubscriptionRepositoryImpl) Update(ctx context.Context, update repository.SubscriptionUpdate) error {
	patch, err := json.Marshal(update.MetadataPatch.Clone())
	if err != nil {
		return fmt.Errorf("failed to encode metadata patch: %w", err)
	}

	var status *string
	if update.Status != nil {
		s := string(*update.Status)
		status = &s
	}

	var guarded bool
	var expected []byte
	if update.Guard != nil {
		guarded = true
		expected = update.Guard.JSON()
	}

	query := `
		UPDATE subscriptions
		SET
			metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb,
			status = COALESCE($3::text, status),
			canceled_at = COALESCE($4::timestamptz, canceled_at),
			updated_at = now()
		WHERE id = $1
			AND (NOT $5::boolean
				OR NULLIF(metadata->'retry_count', 'null'::jsonb) IS NOT DISTINCT FROM $6::jsonb)
	`
	tag, err := r.pool.Exec(ctx, query, update.ID, patch, status, update.CanceledAt, guarded, expected)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, update.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check subscription: %w", err)
	}
	if !exists {
		return &domainErrors.NotFoundError{Entity: "subscription", ID: update.ID.String(), Err: domainErrors.ErrSubscriptionNotFound}
	}
	return &domainErrors.ConflictError{Entity: "subscription", Reason: "retry_count changed since it was read", Err: domainErrors.ErrConcurrentUpdate}
}

func scanSubscription(row pgx.Row) (*entity.Subscription, error) {
	var (
		sub    entity.Subscription
		status string
		meta   []byte
	)
	if err := row.Scan(
		&sub.ID, &sub.UserID, &sub.UserEmail, &status, &meta,
		&sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}

	metadata, err := entity.DecodeMetadata(meta)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata on subscription %s: %w", sub.ID, err)
	}
	sub.Status = entity.SubscriptionStatus(status)
	sub.Metadata = metadata
	return &sub, nil
}
