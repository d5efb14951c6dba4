package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/sofia-platform/billing/internal/domain/entity"
)

// NewDunningSubscription builds a subscription in the given status with the given metadata
func NewDunningSubscription(status entity.SubscriptionStatus, meta entity.Metadata) *entity.Subscription {
	userID := uuid.New()
	sub := entity.NewSubscription(userID, "user-"+userID.String()[:8]+"@example.com")
	sub.Status = status
	if meta != nil {
		sub.Metadata = meta
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return sub
}

// NewPaidTransaction builds a paid transaction for the subscription created at the given time
func NewPaidTransaction(sub *entity.Subscription, createdAt time.Time, meta entity.Metadata) *entity.Transaction {
	txn := entity.NewTransaction(sub.UserID, &sub.ID, 4990, "BRL")
	txn.Status = entity.TransactionStatusPaid
	txn.GatewayID = "tran_" + txn.ID.String()[:12]
	txn.CreatedAt = createdAt.UTC().Truncate(time.Microsecond)
	if meta != nil {
		txn.Metadata = meta
	}
	return txn
}
