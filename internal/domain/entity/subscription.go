package entity

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusUnpaid     SubscriptionStatus = "unpaid"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusIncomplete SubscriptionStatus = "incomplete"
)

// DunningStatuses are the subscription states picked up by a dunning pass.
var DunningStatuses = []SubscriptionStatus{StatusPastDue, StatusUnpaid}

// ParseSubscriptionStatus validates a raw status string
func ParseSubscriptionStatus(status string) (SubscriptionStatus, bool) {
	s := SubscriptionStatus(status)
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusUnpaid, StatusCanceled, StatusIncomplete:
		return s, true
	default:
		return "", false
	}
}

type Subscription struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	UserEmail  string
	Status     SubscriptionStatus
	Metadata   Metadata
	CanceledAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewSubscription creates a new active subscription entity
func NewSubscription(userID uuid.UUID, userEmail string) *Subscription {
	now := time.Now()
	return &Subscription{
		ID:        uuid.New(),
		UserID:    userID,
		UserEmail: userEmail,
		Status:    StatusActive,
		Metadata:  Metadata{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsInDunning returns true if the subscription is past due or unpaid
func (s *Subscription) IsInDunning() bool {
	for _, status := range DunningStatuses {
		if s.Status == status {
			return true
		}
	}
	return false
}

// IsCanceled returns true if the subscription has been canceled
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// Dunning returns the typed dunning view of the subscription metadata
func (s *Subscription) Dunning() DunningState {
	return s.Metadata.Dunning()
}

// ApplyDunning mirrors a persisted dunning step onto the in-memory entity
func (s *Subscription) ApplyDunning(state DunningState, canceledAt *time.Time) {
	s.Metadata = s.Metadata.WithDunning(state)
	if canceledAt != nil {
		s.Status = StatusCanceled
		s.CanceledAt = canceledAt
	}
	s.UpdatedAt = time.Now()
}
