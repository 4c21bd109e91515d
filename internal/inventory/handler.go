package inventory

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stockroom/stockroom/internal/platform/httpx"
	"github.com/stockroom/stockroom/internal/query"
	"github.com/stockroom/stockroom/internal/rbac"
	"github.com/stockroom/stockroom/internal/shared"
)

// IdempotencyHeader carries the optional double-submit guard for sales.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers configuration, stock and sale routes. Callers mount
// it behind authentication.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/configurations", func(r chi.Router) {
		r.Get("/", h.listConfigurations)
		r.Get("/{id}", h.getConfiguration)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireRole(rbac.RoleAdmin))
			r.Post("/", h.createConfiguration)
			r.Patch("/{id}", h.updateConfiguration)
			r.Post("/{id}/clone", h.cloneConfiguration)
			r.Delete("/{id}", h.deleteConfiguration)
		})
	})
	r.Route("/stocks", func(r chi.Router) {
		r.Get("/", h.listStocks)
		r.Get("/{serial}", h.getStock)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireRole(rbac.RoleAdmin))
			r.Post("/from-config/{configID}", h.cloneStocks)
			r.Patch("/{serial}", h.updateStock)
			r.Post("/{serial}/status", h.transitionStock)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireRole(rbac.RoleOwner))
			r.Delete("/{serial}", h.deleteStock)
		})
	})
	r.Route("/sales", func(r chi.Router) {
		r.Get("/", h.listSales)
		r.Get("/{id}", h.getSale)
		r.Post("/", h.sellStock)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireRole(rbac.RoleAdmin))
			r.Post("/swap", h.swapStock)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireRole(rbac.RoleOwner))
			r.Delete("/{id}", h.deleteSale)
		})
	})
}

func actorFrom(r *http.Request) shared.Actor {
	p, _ := rbac.PrincipalFromContext(r.Context())
	return shared.NewActor(p.Username)
}

func filterParams(r *http.Request) query.Params {
	q := r.URL.Query()
	return query.Params{In: q.Get("in"), Price: q.Get("price"), Date: q.Get("date"), Fields: q.Get("fields")}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, h.logger, shared.Validationf("malformed body: %v", err))
		return false
	}
	return true
}

func respondList[T any](w http.ResponseWriter, logger *slog.Logger, items []T, fields []string) {
	if items == nil {
		items = []T{}
	}
	content, err := query.Project(items, fields)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return
	}
	httpx.OK(w, "Request was successful", content)
}

func (h *Handler) listConfigurations(w http.ResponseWriter, r *http.Request) {
	filter, err := query.Parse(filterParams(r), ConfigurationSchema)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	configs, err := h.service.ListConfigurations(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	respondList(w, h.logger, configs, filter.Fields)
}

func (h *Handler) getConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.GetConfiguration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "Request was successful", cfg)
}

func (h *Handler) createConfiguration(w http.ResponseWriter, r *http.Request) {
	var specs Specs
	if !h.decode(w, r, &specs) {
		return
	}
	cfg, err := h.service.CreateConfiguration(r.Context(), specs, actorFrom(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Created(w, "Configuration has been successfully added", cfg)
}

func (h *Handler) updateConfiguration(w http.ResponseWriter, r *http.Request) {
	var patch ConfigurationPatch
	if !h.decode(w, r, &patch) {
		return
	}
	cfg, err := h.service.UpdateConfiguration(r.Context(), chi.URLParam(r, "id"), patch, actorFrom(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "Configuration has been successfully updated", cfg)
}

func (h *Handler) cloneConfiguration(w http.ResponseWriter, r *http.Request) {
	var overrides ConfigurationPatch
	if r.ContentLength != 0 && !h.decode(w, r, &overrides) {
		return
	}
	cfg, err := h.service.CloneConfiguration(r.Context(), chi.URLParam(r, "id"), overrides, actorFrom(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Created(w, "Configuration has been successfully cloned", cfg)
}

func (h *Handler) deleteConfiguration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.DeleteConfiguration(r.Context(), id, actorFrom(r)); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, fmt.Sprintf("Configuration: %s deleted successfully.", id), nil)
}

func (h *Handler) listStocks(w http.ResponseWriter, r *http.Request) {
	filter, err := query.Parse(filterParams(r), StockSchema)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	stocks, err := h.service.ListStocks(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	respondList(w, h.logger, stocks, filter.Fields)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.service.GetStock(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "Request was successful", stock)
}

func (h *Handler) cloneStocks(w http.ResponseWriter, r *http.Request) {
	var templates []StockTemplate
	if !h.decode(w, r, &templates) {
		return
	}
	stocks, err := h.service.CloneStocksFromConfig(r.Context(), chi.URLParam(r, "configID"), templates, actorFrom(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.logger.Info("stocks cloned", slog.String("config_id", chi.URLParam(r, "configID")), slog.Int("count", len(stocks)))
	httpx.Created(w, "Stocks have been successfully added", stocks)
}

func (h *Handler) updateStock(w http.ResponseWriter, r *http.Request) {
	var patch StockPatch
	if !h.decode(w, r, &patch) {
		return
	}
	stock, err := h.service.UpdateStock(r.Context(), chi.URLParam(r, "serial"), patch, actorFrom(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "Stock has been successfully updated", stock)
}

type statusRequest struct {
	Status StockStatus `json:"status"`
}

func (h *Handler) transitionStock(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	stock, err := h.service.TransitionStockStatus(r.Context(), chi.URLParam(r, "serial"), req.Status, actorFrom(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, fmt.Sprintf("Stock: %s is now %s.", stock.Serial, stock.CurrentStatus), stock)
}

func (h *Handler) deleteStock(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	if err := h.service.DeleteStock(r.Context(), serial, actorFrom(r)); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, fmt.Sprintf("Stock: %s deleted successfully.", serial), nil)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	filter, err := query.Parse(filterParams(r), SaleSchema)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	sales, err := h.service.ListSales(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	respondList(w, h.logger, sales, filter.Fields)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "Request was successful", sale)
}

func (h *Handler) sellStock(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	sales, err := h.service.SellStock(r.Context(), req, actorFrom(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.logger.Info("stocks sold", slog.Int("count", len(sales)), slog.String("customer", req.CustomerName))
	httpx.Created(w, "Sale has been successfully recorded", sales)
}

func (h *Handler) swapStock(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if !h.decode(w, r, &req) {
		return
	}
	sale, err := h.service.SwapStock(r.Context(), req, actorFrom(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, fmt.Sprintf("Stock: %s swapped with %s.", req.SoldSerial, req.ExchangeSerial), sale)
}

func (h *Handler) deleteSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.DeleteSale(r.Context(), id, actorFrom(r)); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, fmt.Sprintf("Sale: %s deleted successfully.", id), nil)
}
