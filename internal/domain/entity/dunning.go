package entity

import (
	"time"
)

const (
	// MaxDunningAttempts is the attempt number at which a subscription is canceled.
	MaxDunningAttempts = 3

	FirstRetryDelay  = 24 * time.Hour
	SecondRetryDelay = 48 * time.Hour
)

// DunningState is the typed view of the dunning keys kept in metadata
type DunningState struct {
	RetryCount  int
	NextRetryAt *time.Time
}

// IsExhausted returns true once the retry budget has been spent
func (d DunningState) IsExhausted() bool {
	return d.RetryCount >= MaxDunningAttempts
}

// IsDue reports whether a dunning pass running at now should process this state.
// A missing next_retry_at is always due.
func (d DunningState) IsDue(now time.Time) bool {
	if d.IsExhausted() {
		return false
	}
	if d.NextRetryAt != nil && d.NextRetryAt.After(now) {
		return false
	}
	return true
}

// RetryPlan is the outcome of one dunning attempt: either another retry or cancellation.
type RetryPlan struct {
	NextRetryAt  *time.Time
	WillCancelAt *time.Time
}

// Cancels returns true if the plan ends the subscription
func (p RetryPlan) Cancels() bool {
	return p.WillCancelAt != nil
}

// ComputeRetryPlan maps the attempt about to be recorded (1-based) to the next action:
// attempt 1 retries in 24h, attempt 2 in 48h, attempt 3 and above cancel at reference time.
func ComputeRetryPlan(reference time.Time, attempt int) RetryPlan {
	switch {
	case attempt >= MaxDunningAttempts:
		cancelAt := reference
		return RetryPlan{WillCancelAt: &cancelAt}
	case attempt == 2:
		next := reference.Add(SecondRetryDelay)
		return RetryPlan{NextRetryAt: &next}
	default:
		next := reference.Add(FirstRetryDelay)
		return RetryPlan{NextRetryAt: &next}
	}
}
