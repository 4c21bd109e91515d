package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stockroom/stockroom/internal/inventory"
	"github.com/stockroom/stockroom/internal/shared"
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	workflowsTotal   *prometheus.CounterVec
	stocksMoved      *prometheus.CounterVec
	saleValue        prometheus.Counter
	workflowFailures *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and workflow metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockroom_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockroom_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	workflows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockroom_workflows_total",
		Help: "Committed inventory workflows by name.",
	}, []string{"workflow"})
	moved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockroom_stock_transitions_total",
		Help: "Stocks moved into a status.",
	}, []string{"status"})
	saleValue := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockroom_sales_value_total",
		Help: "Sum of committed sale prices.",
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockroom_workflow_failures_total",
		Help: "Rejected or rolled back workflows by name and error class.",
	}, []string{"workflow", "reason"})
	registry.MustRegister(requests, duration, workflows, moved, saleValue, failures)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		workflowsTotal:   workflows,
		stocksMoved:      moved,
		saleValue:        saleValue,
		workflowFailures: failures,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

var _ inventory.EventHandler = (*Metrics)(nil)

// HandleStocksCloned implements inventory.EventHandler.
func (m *Metrics) HandleStocksCloned(_ context.Context, evt inventory.StocksClonedEvent) error {
	m.workflowsTotal.WithLabelValues(inventory.WorkflowClone).Inc()
	m.stocksMoved.WithLabelValues(string(inventory.StatusNew)).Add(float64(len(evt.Serials)))
	return nil
}

// HandleStocksSold implements inventory.EventHandler.
func (m *Metrics) HandleStocksSold(_ context.Context, evt inventory.StocksSoldEvent) error {
	m.workflowsTotal.WithLabelValues(inventory.WorkflowSale).Inc()
	m.stocksMoved.WithLabelValues(string(inventory.StatusSold)).Add(float64(len(evt.Serials)))
	m.saleValue.Add(evt.Total.InexactFloat64())
	return nil
}

// HandleStockSwapped implements inventory.EventHandler.
func (m *Metrics) HandleStockSwapped(_ context.Context, _ inventory.StockSwappedEvent) error {
	m.workflowsTotal.WithLabelValues(inventory.WorkflowSwap).Inc()
	m.stocksMoved.WithLabelValues(string(inventory.StatusReturned)).Inc()
	m.stocksMoved.WithLabelValues(string(inventory.StatusSold)).Inc()
	return nil
}

// HandleStockStatusChanged implements inventory.EventHandler.
func (m *Metrics) HandleStockStatusChanged(_ context.Context, evt inventory.StockStatusChangedEvent) error {
	m.workflowsTotal.WithLabelValues(inventory.WorkflowStatus).Inc()
	m.stocksMoved.WithLabelValues(string(evt.Status)).Inc()
	return nil
}

// HandleWorkflowFailed implements inventory.EventHandler.
func (m *Metrics) HandleWorkflowFailed(_ context.Context, workflow string, err error) {
	m.workflowFailures.WithLabelValues(workflow, failureReason(err)).Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrPreconditionFailed):
		return "precondition"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	case errors.Is(err, shared.ErrTransaction):
		return "transaction"
	default:
		return "internal"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
