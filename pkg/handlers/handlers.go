// Package handlers provides JSON response helpers shared by domain HTTP handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ErrInvalidBody indicates the request body could not be decoded as JSON.
var ErrInvalidBody = errors.New("invalid request body")

// RespondJSON writes data as JSON with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError logs err and writes it as {"error": "..."} with the given status code.
// Server errors log at error level and respond with the generic status text
// only; client errors log at warn and echo err.
func RespondError(w http.ResponseWriter, logger *slog.Logger, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
		msg = http.StatusText(status)
	} else {
		logger.Warn("request rejected", "status", status, "error", err)
	}
	RespondJSON(w, status, map[string]string{"error": msg})
}

// DecodeJSON decodes the request body into T, rejecting unknown fields and trailing data.
func DecodeJSON[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return v, fmt.Errorf("%w: trailing data", ErrInvalidBody)
	}
	return v, nil
}
