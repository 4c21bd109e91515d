package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stockroom/stockroom/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWarrantyExpiryScan lists sold stocks whose warranty is about to end.
	TaskWarrantyExpiryScan = "stocks:warranty_scan"
	// TaskIdempotencyPurge expires old sale idempotency keys.
	TaskIdempotencyPurge = "idempotency:purge"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// WarrantyScanPayload configures one warranty expiry scan.
type WarrantyScanPayload struct {
	Window time.Duration `json:"window"`
}

// NewWarrantyScanTask constructs the warranty expiry scan task.
func NewWarrantyScanTask(window time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(WarrantyScanPayload{Window: window})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWarrantyExpiryScan, data), nil
}

// IdempotencyPurgePayload sets how long keys are retained.
type IdempotencyPurgePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyPurgeTask constructs the idempotency purge task.
func NewIdempotencyPurgeTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyPurgePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyPurge, data), nil
}
