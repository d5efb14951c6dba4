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
)

const transactionColumns = `id, user_id, subscription_id, amount_cents, currency, status, gateway_id, metadata, created_at`

// TransactionRepositoryImpl implements TransactionRepository using pgxpool
type TransactionRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepositoryImpl {
	return &TransactionRepositoryImpl{pool: pool}
}

// Create inserts a new transaction
func (r *TransactionRepositoryImpl) Create(ctx context.Context, txn *entity.Transaction) error {
	meta, err := json.Marshal(txn.Metadata.Clone())
	if err != nil {
		return fmt.Errorf("failed to encode transaction metadata: %w", err)
	}

	var gatewayID *string
	if txn.GatewayID != "" {
		gatewayID = &txn.GatewayID
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		txn.ID, txn.UserID, txn.SubscriptionID, txn.AmountCents, txn.Currency,
		string(txn.Status), gatewayID, meta, txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by ID
func (r *TransactionRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	txn, err := scanTransaction(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domainErrors.NotFoundError{Entity: "transaction", ID: id.String(), Err: domainErrors.ErrTransactionNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// GetLatestByUserID retrieves the most recently created transaction of a user
func (r *TransactionRepositoryImpl) GetLatestByUserID(ctx context.Context, userID uuid.UUID) (*entity.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	txn, err := scanTransaction(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // Return nil, nil when the user has no transactions
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest transaction: %w", err)
	}
	return txn, nil
}

// MergeMetadata merges patch into the stored metadata, keeping every other key
func (r *TransactionRepositoryImpl) MergeMetadata(ctx context.Context, id uuid.UUID, patch entity.Metadata) error {
	raw, err := json.Marshal(patch.Clone())
	if err != nil {
		return fmt.Errorf("failed to encode metadata patch: %w", err)
	}

	query := `
		UPDATE transactions
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, raw)
	if err != nil {
		return fmt.Errorf("failed to update transaction metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domainErrors.NotFoundError{Entity: "transaction", ID: id.String(), Err: domainErrors.ErrTransactionNotFound}
	}
	return nil
}

func scanTransaction(row pgx.Row) (*entity.Transaction, error) {
	var (
		txn       entity.Transaction
		status    string
		gatewayID *string
		meta      []byte
	)
	if err := row.Scan(
		&txn.ID, &txn.UserID, &txn.SubscriptionID, &txn.AmountCents, &txn.Currency,
		&status, &gatewayID, &meta, &txn.CreatedAt,
	); err != nil {
		return nil, err
	}

	metadata, err := entity.DecodeMetadata(meta)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata on transaction %s: %w", txn.ID, err)
	}
	txn.Status = entity.TransactionStatus(status)
	txn.Metadata = metadata
	if gatewayID != nil {
		txn.GatewayID = *gatewayID
	}
	return &txn, nil
}
