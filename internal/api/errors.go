package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeUnsupported        = "unsupported_command"
	ErrCodeUnavailable        = "service_unavailable"
	ErrCodeApplianceError     = "appliance_error"
	ErrCodeConfirmTimeout     = "confirmation_timeout"
	ErrCodeConfirmationFailed = "confirmation_failed"
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

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeUnavailable writes a 503 error response.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeCommandError maps engine and gateway errors to HTTP responses.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, autelis.ErrNodeNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, autelis.ErrUnsupportedCommand):
		writeError(w, http.StatusBadRequest, ErrCodeUnsupported, err.Error())
	case errors.Is(err, autelis.ErrInvalidParameters):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, autelis.ErrNotRunning), errors.Is(err, autelis.ErrStopped):
		writeUnavailable(w, err.Error())
	case errors.Is(err, autelis.ErrConnectivity), errors.Is(err, autelis.ErrProtocol):
		writeError(w, http.StatusBadGateway, ErrCodeApplianceError, err.Error())
	case errors.Is(err, autelis.ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeConfirmTimeout, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
