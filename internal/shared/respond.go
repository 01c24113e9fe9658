package shared

import (
	"encoding/json"
	"net/http"
)

// APIError is the JSON error envelope returned by every handler. Code is a
// stable machine-readable identifier; Detail is only populated in development
// mode so internals never leak in production responses.
type APIError struct {
	Error  string         `json:"error"`
	Code   string         `json:"code"`
	Detail string         `json:"detail,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// WriteJSON serializes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the standard error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, APIError{Error: message, Code: code})
}
