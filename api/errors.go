package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"kanban-api/domain"
	"kanban-api/storage"
)

const (
	msgInvalidJSON = "Invalid JSON"
	msgNotFound    = "Not found"
	msgForbidden   = "Forbidden"
	msgInFlight    = "Request already in progress"
	msgTooLarge    = "Request body too large"
)

type errorResponse struct {
	Error string `json:"error"`
}

// storeFailure forces a 500 carrying the store diagnostic regardless of
// the underlying error kind.
type storeFailure struct{ err error }

func (f *storeFailure) Error() string { return f.err.Error() }
func (f *storeFailure) Unwrap() error { return f.err }

// statusFor maps an error onto an HTTP status and client message. Store
// failures carry the backend diagnostic verbatim.
func statusFor(err error) (int, string) {
	var sf *storeFailure
	if errors.As(err, &sf) {
		return http.StatusInternalServerError, sf.Error()
	}
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, domain.ErrUnauthenticated.Error()
	case domain.IsValidation(err):
		var ve *domain.ValidationError
		errors.As(err, &ve)
		return http.StatusBadRequest, ve.Message
	case errors.Is(err, errInvalidJSON):
		return http.StatusBadRequest, msgInvalidJSON
	case errors.Is(err, errRequestInFlight):
		return http.StatusConflict, msgInFlight
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, msgTooLarge
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, storage.ErrForbidden):
		return http.StatusForbidden, msgForbidden
	}
	return http.StatusInternalServerError, err.Error()
}

func writeError(c echo.Context, err error) error {
	status, msg := statusFor(err)
	return c.JSON(status, errorResponse{Error: msg})
}

// errorStage names the failing step for request logs.
func errorStage(err error) string {
	var sf *storeFailure
	if errors.As(err, &sf) {
		return "storage"
	}
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return "auth"
	case domain.IsValidation(err), errors.Is(err, errInvalidJSON), errors.Is(err, errBodyTooLarge):
		return "validation"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, errRequestInFlight):
		return "idempotency"
	}
	return "storage"
}
