package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/stockroom/stockroom/internal/platform/httpx"
	"github.com/stockroom/stockroom/internal/shared"
)

// Enqueuer queues on-demand scans. *Client implements it.
type Enqueuer interface {
	EnqueueWarrantyScan(ctx context.Context, window time.Duration) (*asynq.TaskInfo, error)
}

// Handler serves the /jobs endpoints.
type Handler struct {
	inspector *asynq.Inspector
	enqueuer  Enqueuer
	logger    *slog.Logger
}

// NewHandler builds the handler. Either dependency may be nil when the
// queue is not configured.
func NewHandler(inspector *asynq.Inspector, enqueuer Enqueuer, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, enqueuer: enqueuer, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Post("/warranty-scan", h.enqueueWarrantyScan)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	health := queueHealth{Queue: QueueDefault}
	if h.inspector != nil {
		info, err := h.inspector.GetQueueInfo(QueueDefault)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			h.logger.Warn("jobs health", slog.Any("error", err))
			httpx.Respond(w, http.StatusServiceUnavailable, "job queue unavailable", health)
			return
		}
		if info != nil {
			health.Pending = info.Pending
			health.Active = info.Active
			health.Scheduled = info.Scheduled
			health.Retry = info.Retry
			health.Failed = info.Failed
		}
	}
	httpx.OK(w, "Request was successful", health)
}

// MaxWarrantyWindowDays bounds on-demand scan windows to ten years.
const MaxWarrantyWindowDays = 3650

type scanRequest struct {
	WindowDays int `json:"window_days"`
}

type scanQueued struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
	Window string `json:"window"`
}

func (h *Handler) enqueueWarrantyScan(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.Respond(w, http.StatusServiceUnavailable, "job queue unavailable", nil)
		return
	}
	var req scanRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, h.logger, shared.Validationf("malformed request body: %v", err))
			return
		}
	}
	if req.WindowDays < 0 || req.WindowDays > MaxWarrantyWindowDays {
		httpx.RespondError(w, h.logger, shared.Validationf("window_days must be between 0 and %d", MaxWarrantyWindowDays))
		return
	}
	window := DefaultWarrantyWindow
	if req.WindowDays > 0 {
		window = time.Duration(req.WindowDays) * 24 * time.Hour
	}

	info, err := h.enqueuer.EnqueueWarrantyScan(r.Context(), window)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		httpx.RespondError(w, h.logger, &shared.ConflictError{Message: "a warranty scan for this window is already pending or running"})
		return
	}
	if err != nil {
		h.logger.Error("enqueue warranty scan", slog.Any("error", err))
		httpx.Respond(w, http.StatusServiceUnavailable, "job queue unavailable", nil)
		return
	}
	httpx.Respond(w, http.StatusAccepted, "Warranty scan queued", scanQueued{TaskID: info.ID, Queue: info.Queue, Window: window.String()})
}
