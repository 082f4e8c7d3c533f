// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel error classes for the domain layer. Domain packages wrap these so
// handlers can map any error to a response without importing every module.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrDuplicate   = errors.New("duplicate entry")
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("business rule conflict")
	ErrConcurrency = errors.New("concurrent update conflict")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusUnprocessableEntity, "Conflict", err.Error())
	case errors.Is(err, ErrConcurrency):
		// Retryable: the pipeline upstream is idempotent, so the caller may
		// simply redeliver.
		Problem(w, http.StatusConflict, "Concurrent Update", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
