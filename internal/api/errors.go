package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-poller/internal/directory"
	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeForbidden   = "forbidden"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnavailable = "unavailable"
	ErrCodeBadGateway  = "bad_gateway"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeEngineError maps engine and directory errors to HTTP responses.
// Order matters: a failed write wraps the host's access-denied error.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pollengine.ErrAccessDenied),
		errors.Is(err, pollengine.ErrWrongAccess),
		errors.Is(err, pollengine.ErrNoReadAccess):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, pollengine.ErrBadName),
		errors.Is(err, pollengine.ErrBadValue),
		errors.Is(err, directory.ErrInvalidEntry):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, pollengine.ErrNotFound),
		errors.Is(err, pollengine.ErrUnknownMoniker),
		errors.Is(err, directory.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, directory.ErrOutranked):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, pollengine.ErrHostOffline),
		errors.Is(err, pollengine.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, pollengine.ErrWriteFailed):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
