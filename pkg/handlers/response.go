// Package handlers contains the HTTP surface. All responses use a single
// envelope: {"success": bool, "message": ..., "data": ...}.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/panelhub-io/panelhub-engine/pkg/apperrors"
)

// ApiResponse is the response envelope for every endpoint.
type ApiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a success envelope.
func WriteSuccess(w http.ResponseWriter, statusCode int, data any) error {
	return WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data})
}

// WriteFailure writes a failure envelope with the given message.
func WriteFailure(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, ApiResponse{Success: false, Message: message})
}

// statusForError maps the error taxonomy onto HTTP statuses. Membership
// policy denials (last admin, immutable creator) are forbidden rather than
// conflicts; 409 is reserved for reference-blocked deletion. Upstream
// database failures surface as 400 with the sanitized driver message so the
// caller can fix their connection or SQL; anything outside the taxonomy is an
// internal error.
func statusForError(err error) (int, bool) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, true
	case errors.Is(err, apperrors.ErrNotAuthorized),
		errors.Is(err, apperrors.ErrLastAdmin),
		errors.Is(err, apperrors.ErrCreatorImmutable):
		return http.StatusForbidden, true
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, true
	case errors.Is(err, apperrors.ErrConnectivity),
		errors.Is(err, apperrors.ErrSchemaFailed),
		errors.Is(err, apperrors.ErrQueryFailed),
		errors.Is(err, apperrors.ErrQueryTimeout):
		return http.StatusBadRequest, true
	default:
		return http.StatusInternalServerError, false
	}
}

// RespondError writes the failure envelope for a service error. Taxonomy
// errors carry their message through; everything else is logged and reported
// as a generic internal error.
func RespondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, known := statusForError(err)

	message := err.Error()
	if !known {
		logger.Error("request failed", zap.Error(err))
		message = "Internal server error"
	}

	if writeErr := WriteFailure(w, status, message); writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
