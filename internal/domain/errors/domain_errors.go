package errors

import (
	"errors"
	"fmt"
)

var (
	// General errors
	ErrInvalidInput = errors.New("invalid input")

	// Subscription errors
	ErrSubscriptionNotFound     = errors.New("subscription not found")
	ErrSubscriptionNotInDunning = errors.New("subscription is not past due or unpaid")
	ErrSubscriptionCanceled     = errors.New("subscription has been canceled")

	// Transaction errors
	ErrTransactionNotFound = errors.New("transaction not found")

	// Dunning errors
	ErrDunningExhausted      = errors.New("dunning retry budget exhausted")
	ErrDunningPassInProgress = errors.New("a dunning pass is already running")
	ErrConcurrentUpdate      = errors.New("record was modified concurrently")

	// Configuration and external service errors
	ErrStoreNotConfigured         = errors.New("billing store credentials are not configured")
	ErrExternalServiceUnavailable = errors.New("external service unavailable")
	ErrNotificationFailed         = errors.New("notification delivery failed")
)

// NotFoundError wraps an error with not found context
type NotFoundError struct {
	Entity string
	ID     string
	Err    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found: %v", e.Entity, e.ID, e.Err)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// ConflictError wraps an error with conflict context
type ConflictError struct {
	Entity string
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s - %v", e.Entity, e.Reason, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
