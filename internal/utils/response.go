// Package utils holds small helpers shared by the HTTP layers.
package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   ErrorDetails   `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorDetails names the error.
type ErrorDetails struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondJSON sends a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

// RespondError sends an error JSON response.
func RespondError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	resp := ErrorResponse{Error: ErrorDetails{Code: code, Message: message}}
	if len(details) > 0 {
		resp.Details = details
	}
	RespondJSON(w, status, resp)
}
