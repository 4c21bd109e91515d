package users

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stockroom/stockroom/internal/platform/httpx"
	"github.com/stockroom/stockroom/internal/rbac"
	"github.com/stockroom/stockroom/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes. Callers mount it behind authentication.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
	r.Post("/", h.createUser)
	r.Patch("/{username}", h.updateUser)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleAdmin))
		r.Get("/", h.listUsers)
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, h.logger, shared.ErrUnauthorized)
		return
	}
	user, err := h.service.Get(r.Context(), p.Username)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "Request was successful", user)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "Request was successful", users)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, shared.Validationf("malformed body: %v", err))
		return
	}
	user, err := h.service.Create(r.Context(), p, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.logger.Info("user created", slog.String("username", user.Username), slog.String("by", p.Username))
	httpx.Created(w, "User has been successfully added", user)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	username := chi.URLParam(r, "username")
	var req UpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, shared.Validationf("malformed body: %v", err))
		return
	}
	user, deleted, err := h.service.Update(r.Context(), p, username, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	verb := "updated"
	if deleted {
		verb = "deleted"
	}
	httpx.OK(w, fmt.Sprintf("User: %s %s successfully.", user.Username, verb), user)
}
