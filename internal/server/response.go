package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/internal/session"
	"github.com/opencode-ai/agentcore/internal/storage"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeSessionBusy      = "SESSION_BUSY"
	ErrCodeNotRunning       = "NOT_RUNNING"
	ErrCodeNothingToCompact = "NOTHING_TO_COMPACT"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeServiceError maps an engine error onto a status code.
func writeServiceError(w http.ResponseWriter, err error) {
	var invalid *permission.InvalidResponseError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, permission.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, ErrCodeSessionBusy, err.Error())
	case errors.Is(err, session.ErrNotRunning):
		writeError(w, http.StatusConflict, ErrCodeNotRunning, err.Error())
	case errors.Is(err, session.ErrNothingToCompact):
		writeError(w, http.StatusConflict, ErrCodeNothingToCompact, err.Error())
	case errors.Is(err, session.ErrEmptyMessage), errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// decodeBody decodes the JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
