package entity

import (
	"time"

	"github.com/google/uuid"
)

type TransactionStatus string

const (
	TransactionStatusPaid     TransactionStatus = "paid"
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusFailed   TransactionStatus = "failed"
	TransactionStatusRefunded TransactionStatus = "refunded"
)

type Transaction struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	SubscriptionID *uuid.UUID
	AmountCents    int64
	Currency       string
	Status         TransactionStatus
	GatewayID      string
	Metadata       Metadata
	CreatedAt      time.Time
}

// NewTransaction creates a new pending transaction entity
func NewTransaction(userID uuid.UUID, subscriptionID *uuid.UUID, amountCents int64, currency string) *Transaction {
	return &Transaction{
		ID:             uuid.New(),
		UserID:         userID,
		SubscriptionID: subscriptionID,
		AmountCents:    amountCents,
		Currency:       currency,
		Status:         TransactionStatusPending,
		Metadata:       Metadata{},
		CreatedAt:      time.Now(),
	}
}

// IsPaid returns true if the transaction was paid
func (t *Transaction) IsPaid() bool {
	return t.Status == TransactionStatusPaid
}

// IsFailed returns true if the transaction failed
func (t *Transaction) IsFailed() bool {
	return t.Status == TransactionStatusFailed
}
