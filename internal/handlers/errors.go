package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"bookchat-ai/internal/rag"
	"bookchat-ai/internal/storage"
)

// ErrorResponse represents an error response.
//
// swagger:model ErrorResponse
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// engineError maps pipeline errors to an HTTP status and client message.
func engineError(err error) (int, string) {
	switch {
	case errors.Is(err, rag.ErrEmbedding), errors.Is(err, rag.ErrGenerator):
		return http.StatusBadGateway, "External service error"
	case errors.Is(err, rag.ErrStorage):
		return http.StatusServiceUnavailable, "Storage unavailable"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "Not found"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
