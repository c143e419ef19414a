package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/example/agro-freight/internal/auth"
	"github.com/example/agro-freight/internal/lifecycle"
	"github.com/example/agro-freight/internal/rating"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeList always encodes a JSON array, never null.
func writeList[T any](w http.ResponseWriter, items []T) {
	n := len(items)
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Count: &n, Data: items})
}

func validation(msg string) error {
	return fmt.Errorf("%w: %s", lifecycle.ErrValidation, msg)
}

// decode reads a JSON body, rejecting unknown fields and trailing data.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.fail(w, r, validation("malformed body: "+err.Error()))
		return false
	}
	if dec.More() {
		s.fail(w, r, validation("malformed body: trailing data"))
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrValidation),
		errors.Is(err, lifecycle.ErrInvalidState),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrCapacityExceeded):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, lifecycle.ErrForbiddenRole), errors.Is(err, lifecycle.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rating.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		s.logger.Error("request failed", "method", r.Method, "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		msg = "internal error"
	case http.StatusServiceUnavailable:
		s.logger.Warn("dependency unavailable", "method", r.Method, "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		msg = rating.ErrUnavailable.Error()
	}
	writeJSON(w, status, envelope{Success: false, Message: msg})
}
