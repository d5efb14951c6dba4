package tasks

import (
	"time"

	"github.com/hibiken/asynq"
)

// Task names
const (
	TypeRunDunningPass   = "dunning:run_pass"
	TypeSendDunningEmail = "notification:dunning_email"
)

// Queue names, matching the worker's weighted queue config
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// RegisterHandlers registers all task handlers with the server mux.
func RegisterHandlers(mux *asynq.ServeMux, h *DunningJobHandler) {
	mux.HandleFunc(TypeRunDunningPass, h.HandleRunDunningPass)
	mux.HandleFunc(TypeSendDunningEmail, h.HandleSendDunningEmail)
}

// RegisterScheduledTasks registers the recurring dunning pass on the given cron schedule
func RegisterScheduledTasks(scheduler *asynq.Scheduler, schedule string, passTimeout time.Duration) error {
	_, err := scheduler.Register(schedule, NewRunDunningPassTask(passTimeout))
	return err
}

// NewRunDunningPassTask builds the batch pass task. It is never retried:
// the next scheduled tick picks up whatever this one missed.
func NewRunDunningPassTask(timeout time.Duration) *asynq.Task {
	opts := []asynq.Option{asynq.Queue(QueueCritical), asynq.MaxRetry(0)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TypeRunDunningPass, nil, opts...)
}
