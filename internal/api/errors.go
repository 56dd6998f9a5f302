package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNotReady      = "SNAPSHOT_NOT_READY"
	ErrCodeNotConfigured = "NOT_CONFIGURED"
	ErrCodeUpstream      = "UPSTREAM_ERROR"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// mapSourceError maps a classified source error to an HTTP status and
// error code
func mapSourceError(err error) (int, string) {
	switch apperrors.ClassOf(err) {
	case apperrors.ClassPermanent:
		return http.StatusBadRequest, ErrCodeInvalidInput
	case apperrors.ClassNotConfigured:
		return http.StatusServiceUnavailable, ErrCodeNotConfigured
	case apperrors.ClassTransient, apperrors.ClassReordering, apperrors.ClassCacheMiss:
		return http.StatusBadGateway, ErrCodeUpstream
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}
