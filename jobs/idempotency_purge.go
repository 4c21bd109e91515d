package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stockroom/stockroom/internal/jobs"
)

// DefaultIdempotencyRetention is how long sale idempotency keys are kept
// when a task carries no retention.
const DefaultIdempotencyRetention = 24 * time.Hour

// Purger deletes idempotency keys older than a retention period.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyPurgeJob expires old idempotency keys.
type IdempotencyPurgeJob struct {
	Keys    Purger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

func NewIdempotencyPurgeJob(keys Purger, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyPurgeJob {
	return &IdempotencyPurgeJob{Keys: keys, Logger: logger, Metrics: metrics}
}

// Handle runs one purge.
func (j *IdempotencyPurgeJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var payload IdempotencyPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if j.Keys == nil {
		return errors.New("idempotency purge: key store not configured")
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	run := metrics.Start(TaskIdempotencyPurge)
	defer func() { err = run.Finish(err) }()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	removed, err := j.Keys.Purge(ctx, retention)
	if err != nil {
		logger.Error("idempotency purge failed", slog.Any("error", err))
		return err
	}
	logger.Info("idempotency keys purged", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return nil
}
