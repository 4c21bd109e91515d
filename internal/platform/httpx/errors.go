package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/stockroom/stockroom/internal/shared"
)

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, shared.ErrValidation), errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrUnauthorized), errors.Is(err, shared.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to enveloped HTTP responses. Conflict errors
// place their blocking identifiers in content. Unexpected errors are logged and
// answered with a generic message.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)
	var content any
	var conflict *shared.ConflictError
	if errors.As(err, &conflict) {
		content = conflict.Payload()
	}
	message := shared.UserSafeMessage(err)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		message = verrs.Error()
	}
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", slog.Any("error", err))
	}
	Respond(w, status, message, content)
}
