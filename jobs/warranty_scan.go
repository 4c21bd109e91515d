package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stockroom/stockroom/internal/inventory"
	jobmetrics "github.com/stockroom/stockroom/internal/jobs"
	"github.com/stockroom/stockroom/internal/query"
)

// DefaultWarrantyWindow is used when a task carries no window.
const DefaultWarrantyWindow = 30 * 24 * time.Hour

// StockLister is the read side of the inventory service the scan needs.
type StockLister interface {
	ListStocks(ctx context.Context, filter query.Filter) ([]inventory.Stock, error)
}

// WarrantyScanJob logs sold stocks whose warranty ends inside the window.
type WarrantyScanJob struct {
	Stocks  StockLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewWarrantyScanJob initialises the warranty scan handler.
func NewWarrantyScanJob(stocks StockLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *WarrantyScanJob {
	return &WarrantyScanJob{
		Stocks:  stocks,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *WarrantyScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("warranty scan: handler not configured")
	}
	var payload WarrantyScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Scan(ctx, payload.Window)
	return err
}

// Scan returns the sold stocks whose warranty ends between now and now+window.
func (j *WarrantyScanJob) Scan(ctx context.Context, window time.Duration) (result []inventory.Stock, resultErr error) {
	if j.Stocks == nil {
		return nil, errors.New("warranty scan: stock lister not configured")
	}
	if window <= 0 {
		window = DefaultWarrantyWindow
	}
	run := j.metrics().Start(TaskWarrantyExpiryScan)
	defer func() {
		resultErr = run.Finish(resultErr)
	}()

	now := j.now()
	logger := j.logger().With(slog.Duration("window", window))
	logger.Info("starting warranty scan")

	stocks, err := j.Stocks.ListStocks(ctx, expiringFilter(now, window))
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return nil, err
	}
	for _, s := range stocks {
		logger.Warn("warranty ending soon",
			slog.String("serial", s.Serial),
			slog.String("model", s.Model),
			slog.Time("warranty_end_date", s.WarrantyEndDate),
		)
	}
	j.metrics().SetExpiringWarranties(window, len(stocks))
	logger.Info("completed warranty scan", slog.Int("expiring", len(stocks)))
	return stocks, nil
}

func expiringFilter(now time.Time, window time.Duration) query.Filter {
	return query.Filter{Conditions: []query.Condition{
		{Field: "current_status", Op: query.OpIn, Values: []any{string(inventory.StatusSold)}},
		{Field: "warranty_end_date", Op: query.OpGte, Values: []any{now}},
		{Field: "warranty_end_date", Op: query.OpLte, Values: []any{now.Add(window)}},
	}}
}

func (j *WarrantyScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWarrantyExpiryScan))
	}
	return slog.Default().With(slog.String("job", TaskWarrantyExpiryScan))
}

func (j *WarrantyScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *WarrantyScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
