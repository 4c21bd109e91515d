package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockroom/stockroom/internal/platform/httpx"
	"github.com/stockroom/stockroom/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			httpx.RespondError(w, h.logger, shared.Validationf("malformed form"))
			return
		}
		form = loginForm{Username: r.PostFormValue("username"), Password: r.PostFormValue("password")}
	} else if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, h.logger, shared.Validationf("malformed body: %v", err))
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	token, err := h.service.Login(r.Context(), form.Username, form.Password)
	if err != nil {
		h.logger.Warn("login failed", slog.String("username", form.Username), slog.Any("error", err))
		w.Header().Set("WWW-Authenticate", "Bearer")
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "Login successful", token)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw, ok := BearerToken(r)
	if !ok {
		httpx.RespondError(w, h.logger, shared.ErrUnauthorized)
		return
	}
	if err := h.service.Logout(r.Context(), raw); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "Logged out", nil)
}
