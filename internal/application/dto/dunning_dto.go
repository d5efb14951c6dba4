package dto

// ========== DUNNING PASS DTOs ==========

// RunDunningResponse is the body returned by POST /dunning/run
type RunDunningResponse struct {
	Success    bool   `json:"success"`
	Attempted  int    `json:"attempted"`
	Canceled   int    `json:"canceled"`
	Reviewed   int    `json:"reviewed"`
	Skipped    int    `json:"skipped"`
	Conflicts  int    `json:"conflicts"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

// DunningStatusResponse is the body returned by GET /dunning/status
type DunningStatusResponse struct {
	Status    string `json:"status"`
	Task      string `json:"task"`
	Timestamp string `json:"timestamp"`
}

// ========== DUNNING SUBSCRIPTION DTOs ==========

// DunningSubscriptionResponse describes one subscription's dunning state
type DunningSubscriptionResponse struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Status      string  `json:"status"`
	RetryCount  int     `json:"retry_count"`
	NextRetryAt *string `json:"next_retry_at"`
	Due         bool    `json:"due"`
	Exhausted   bool    `json:"exhausted"`
}

// DunningPreviewResponse lists what the next pass would look at
type DunningPreviewResponse struct {
	Subscriptions []DunningSubscriptionResponse `json:"subscriptions"`
	Reviewed      int                           `json:"reviewed"`
	Due           int                           `json:"due"`
	GeneratedAt   string                        `json:"generated_at"`
}

// ProcessDunningResponse is the outcome of a forced single-subscription attempt
type ProcessDunningResponse struct {
	SubscriptionID string  `json:"subscription_id"`
	RetryCount     int     `json:"retry_count"`
	Canceled       bool    `json:"canceled"`
	NextRetryAt    *string `json:"next_retry_at"`
	CanceledAt     *string `json:"canceled_at"`
}
