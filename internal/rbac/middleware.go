package rbac

import (
	"log/slog"
	"net/http"

	"github.com/stockroom/stockroom/internal/platform/httpx"
	"github.com/stockroom/stockroom/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// RequireRole ensures the current principal ranks at least min.
func (m Middleware) RequireRole(min Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, m.Logger, shared.ErrUnauthorized)
				return
			}
			if !p.Role.AtLeast(min) {
				if m.Logger != nil {
					m.Logger.Warn("rbac denied", slog.String("user", p.Username), slog.String("role", string(p.Role)), slog.String("required", string(min)), slog.String("path", r.URL.Path))
				}
				httpx.RespondError(w, m.Logger, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated ensures a principal is present.
func (m Middleware) RequireAuthenticated() func(http.Handler) http.Handler {
	return m.RequireRole(RoleUser)
}
