package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every error written by this package.
type ErrorResponse struct {
	Detail string              `json:"detail"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteDetail writes an error response carrying only a message
func WriteDetail(w http.ResponseWriter, status int, detail string) {
	_ = WriteJSON(w, status, ErrorResponse{Detail: detail})
}

// WriteFieldErrors writes a 400 response listing messages per field
func WriteFieldErrors(w http.ResponseWriter, detail string, fields map[string][]string) {
	_ = WriteJSON(w, http.StatusBadRequest, ErrorResponse{Detail: detail, Fields: fields})
}
