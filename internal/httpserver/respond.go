package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// APIError is the error envelope returned by every endpoint in this service.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// Respond writes v as a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encoding response", "error", err)
	}
}

// RespondError writes an APIError envelope. message becomes the human-readable
// "error" field; code is the machine-readable UPPER_SNAKE code from §6.
func RespondError(w http.ResponseWriter, status int, code, message string, details ...string) {
	apiErr := APIError{Error: message, Code: code}
	if len(details) > 0 {
		apiErr.Details = details[0]
	}
	Respond(w, status, apiErr)
}
