// Package render writes JSON responses in the newapi envelope shape.
package render

import (
	"encoding/json"
	"net/http"
)

type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func ChiJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ChiOK writes a successful envelope with HTTP 200.
func ChiOK(w http.ResponseWriter, r *http.Request, message string, data any) {
	ChiJSON(w, r, http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

// ChiErr writes a failed envelope. newapi reports most business failures
// with HTTP 200, so status is chosen by the caller.
func ChiErr(w http.ResponseWriter, r *http.Request, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	ChiJSON(w, r, status, Envelope{Success: false, Message: message})
}
