package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/sofia-platform/billing/internal/domain/entity"
	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
)

const (
	transactionsTable  = "transactions"
	transactionColumns = "id,user_id,subscription_id,amount_cents,currency,status,gateway_id,metadata,created_at"
)

type transactionRow struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	SubscriptionID *uuid.UUID      `json:"subscription_id"`
	AmountCents    int64           `json:"amount_cents"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	GatewayID      *string         `json:"gateway_id"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (r transactionRow) toEntity() (*entity.Transaction, error) {
	meta, err := entity.DecodeMetadata(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata on transaction %s: %w", r.ID, err)
	}
	txn := &entity.Transaction{
		ID:             r.ID,
		UserID:         r.UserID,
		SubscriptionID: r.SubscriptionID,
		AmountCents:    r.AmountCents,
		Currency:       r.Currency,
		Status:         entity.TransactionStatus(r.Status),
		Metadata:       meta,
		CreatedAt:      r.CreatedAt,
	}
	if r.GatewayID != nil {
		txn.GatewayID = *r.GatewayID
	}
	return txn, nil
}

// TransactionStore implements TransactionRepository over PostgREST
type TransactionStore struct {
	client *Client
}

// NewTransactionStore creates a new transaction store
func NewTransactionStore(client *Client) *TransactionStore {
	return &TransactionStore{client: client}
}

// GetLatestByUserID retrieves the most recently created transaction of a user
func (s *TransactionStore) GetLatestByUserID(ctx context.Context, userID uuid.UUID) (*entity.Transaction, error) {
	params := url.Values{}
	params.Set("select", transactionColumns)
	params.Set("user_id", "eq."+userID.String())
	params.Set("order", "created_at.desc")
	params.Set("limit", "1")

	var rows []transactionRow
	if err := s.client.get(ctx, transactionsTable, params, &rows); err != nil {
		return nil, fmt.Errorf("failed to get latest transaction: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toEntity()
}

// MergeMetadata reads the transaction metadata, merges patch into it and writes it back
func (s *TransactionStore) MergeMetadata(ctx context.Context, id uuid.UUID, patch entity.Metadata) error {
	params := url.Values{}
	params.Set("select", "id,metadata")
	params.Set("id", "eq."+id.String())
	params.Set("limit", "1")

	var rows []transactionRow
	if err := s.client.get(ctx, transactionsTable, params, &rows); err != nil {
		return fmt.Errorf("failed to read transaction metadata: %w", err)
	}
	if len(rows) == 0 {
		return &domainErrors.NotFoundError{Entity: "transaction", ID: id.String(), Err: domainErrors.ErrTransactionNotFound}
	}

	current, err := entity.DecodeMetadata(rows[0].Metadata)
	if err != nil {
		return fmt.Errorf("invalid metadata on transaction %s: %w", id, err)
	}

	filter := url.Values{}
	filter.Set("id", "eq."+id.String())
	payload := map[string]any{"metadata": current.Merge(patch)}

	if err := s.client.patch(ctx, transactionsTable, filter, payload, nil); err != nil {
		return fmt.Errorf("failed to update transaction metadata: %w", err)
	}
	return nil
}
