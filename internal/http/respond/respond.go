// Package respond writes the JSON envelope shared by the API endpoints.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope is the standard JSON response wrapper. ErrorCode is a stable snake_case
// identifier clients can branch on; Message is for humans.
type Envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// JSON writes a success or informational response.
func JSON(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Code: status, Message: message, Data: data})
}

// Error writes a failure with its machine-readable code.
func Error(w http.ResponseWriter, status int, code, message string) {
	write(w, status, Envelope{Code: status, Message: message, ErrorCode: code})
}

// Auth responses carry per-visitor state and must never be cached.
func write(w http.ResponseWriter, status int, payload Envelope) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("respond: encode payload failed", "status", status, "error", err)
	}
}
