package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockroom/stockroom/internal/inventory"
	jobmetrics "github.com/stockroom/stockroom/internal/jobs"
	"github.com/stockroom/stockroom/internal/shared"
)

func seedInventory(t *testing.T, now time.Time) *inventory.Service {
	t.Helper()
	ctx := context.Background()
	svc := inventory.NewService(inventory.NewMemoryRepository(), nil, nil, nil)
	actor := shared.Actor{Name: "admin", At: now}
	cfg, err := svc.CreateConfiguration(ctx, inventory.Specs{
		Brand: "Dell", Model: "Latitude 5440", ModelNumber: "P137G",
		Price: decimal.NewFromInt(900), WarrantyYears: decimal.NewFromInt(1),
	}, actor)
	require.NoError(t, err)
	_, err = svc.CloneStocksFromConfig(ctx, cfg.ID.String(), []inventory.StockTemplate{
		{Serial: "EXP-1", PurchaseDate: now.AddDate(0, -11, 0)},
		{Serial: "EXP-2", PurchaseDate: now.AddDate(0, -11, 0)},
		{Serial: "FRESH", PurchaseDate: now.AddDate(0, -1, 0)},
		{Serial: "GONE", PurchaseDate: now.AddDate(-2, 0, 0)},
	}, actor)
	require.NoError(t, err)
	_, err = svc.SellStock(ctx, inventory.SaleRequest{
		Lines: []inventory.SaleLine{
			{Serial: "EXP-1", Price: decimal.NewFromInt(900)},
			{Serial: "FRESH", Price: decimal.NewFromInt(900)},
			{Serial: "GONE", Price: decimal.NewFromInt(500)},
		},
		Customer: inventory.Customer{CustomerName: "Ivo Novak", SaleDate: now},
	}, actor)
	require.NoError(t, err)
	return svc
}

func TestWarrantyScanFindsSoldStocksInsideWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := seedInventory(t, now)
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewWarrantyScanJob(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)
	job.clock = func() time.Time { return now }

	stocks, err := job.Scan(context.Background(), 60*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, stocks, 1)
	require.Equal(t, "EXP-1", stocks[0].Serial)

	stocks, err = job.Scan(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	require.Empty(t, stocks)
}

func TestWarrantyScanHandleRejectsBadPayload(t *testing.T) {
	job := NewWarrantyScanJob(nil, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskWarrantyExpiryScan, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewWarrantyScanTask(time.Hour)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestWarrantyScanTaskPayload(t *testing.T) {
	task, err := NewWarrantyScanTask(48 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, TaskWarrantyExpiryScan, task.Type())
	var payload WarrantyScanPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, 48*time.Hour, payload.Window)
}

func newJobsRouter(enqueuer Enqueuer) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, enqueuer, slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes(r)
	return r
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	rr := httptest.NewRecorder()
	newJobsRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"content":{"queue":"default","pending":0,"active":0,"scheduled":0,"retry":0,"failed":0},"message":"Request was successful","status_code":200}`, rr.Body.String())
}

type stubEnqueuer struct {
	windows []time.Duration
	err     error
}

func (s *stubEnqueuer) EnqueueWarrantyScan(_ context.Context, window time.Duration) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.windows = append(s.windows, window)
	return &asynq.TaskInfo{ID: "scan-1", Queue: QueueDefault}, nil
}

func TestEnqueueWarrantyScanEndpoint(t *testing.T) {
	stub := &stubEnqueuer{}
	h := newJobsRouter(stub)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/warranty-scan", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Contains(t, rr.Body.String(), `"task_id":"scan-1"`)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/warranty-scan", strings.NewReader(`{"window_days":14}`)))
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []time.Duration{DefaultWarrantyWindow, 14 * 24 * time.Hour}, stub.windows)

	for _, body := range []string{`{"window_days":-1}`, `{"window_days":3651}`, `{"window_days":200000}`} {
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/warranty-scan", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
	require.Len(t, stub.windows, 2)

	stub.err = asynq.ErrTaskIDConflict
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/warranty-scan", nil))
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	newJobsRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/warranty-scan", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
