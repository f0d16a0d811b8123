// Package core holds the HTTP response envelope and error vocabulary shared
// by every module router.
package core

import (
	"encoding/json"
	"errors"
	"net/http"
)

// JSONResponse is the standard envelope for API responses.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail is the error half of the envelope.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// RenderJSON writes data inside the envelope with the given status.
func RenderJSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, JSONResponse{Data: data})
}

// RenderJSONWithMeta writes data plus pagination or aggregate metadata.
func RenderJSONWithMeta(w http.ResponseWriter, status int, data any, meta map[string]any) {
	writeJSON(w, status, JSONResponse{Data: data, Meta: meta})
}

// RenderError maps err to a status and writes the error envelope. HTTPError
// values keep their status and key; anything else becomes a 500 with a
// generic message so internals never leak to clients.
func RenderError(w http.ResponseWriter, err error) {
	var httpErr HTTPError
	if !errors.As(err, &httpErr) {
		httpErr = ErrInternalServerError
	}

	message := http.StatusText(httpErr.Code)
	writeJSON(w, httpErr.Code, JSONResponse{
		Error: &ErrorDetail{Code: httpErr.Key, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
