// Package handlers implements the HTTP surface of warehouse-engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteServiceError maps a service error to its HTTP status and writes the
// response. The sentinel's own message is safe to show; wrapped detail is too,
// since services never interpolate credentials into errors.
func WriteServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "Internal server error"

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code, message = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, apperrors.ErrConflict):
		status, code, message = http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, apperrors.ErrValidation):
		status, code, message = http.StatusBadRequest, "validation_failed", err.Error()
	case errors.Is(err, apperrors.ErrTemplate):
		status, code, message = http.StatusBadRequest, "template_error", err.Error()
	case errors.Is(err, apperrors.ErrUnsupported):
		status, code, message = http.StatusBadRequest, "unsupported", err.Error()
	case errors.Is(err, apperrors.ErrPermissionDenied):
		status, code, message = http.StatusForbidden, "permission_denied", err.Error()
	case errors.Is(err, apperrors.ErrConnection):
		status, code, message = http.StatusBadGateway, "connection_failed", err.Error()
	case errors.Is(err, apperrors.ErrCredentialsKeyMismatch):
		status, code, message = http.StatusConflict, "credentials_key_mismatch", err.Error()
	case errors.Is(err, apperrors.ErrQuery):
		status, code, message = http.StatusBadRequest, "query_failed", err.Error()
	default:
		logger.Error("Unhandled service error", zap.Error(err))
	}

	if writeErr := ErrorResponse(w, status, code, message); writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
