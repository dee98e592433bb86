package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AdamBeresnev/op-tournament/internal/service"
)

type errorResponse struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Message writes a {"message": ...} body.
func Message(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, errorResponse{Message: msg})
}

func InternalServerError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	Message(w, http.StatusInternalServerError, "Internal Server Error")
}

func BadRequest(w http.ResponseWriter, msg string, err error) {
	warn("bad request", msg, err)
	Message(w, http.StatusBadRequest, msg)
}

// InvalidFields reports per-field validation failures.
func InvalidFields(w http.ResponseWriter, fields map[string]string) {
	slog.Warn("bad request", "message", "invalid request body", "fields", fields)
	JSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body", Fields: fields})
}

func NotFound(w http.ResponseWriter, msg string, err error) {
	warn("not found", msg, err)
	Message(w, http.StatusNotFound, msg)
}

func Unauthorized(w http.ResponseWriter, msg string, err error) {
	warn("unauthorized", msg, err)
	Message(w, http.StatusUnauthorized, msg)
}

func Forbidden(w http.ResponseWriter, msg string, err error) {
	warn("forbidden", msg, err)
	Message(w, http.StatusForbidden, msg)
}

// Error maps a service error onto its HTTP status. Unknown errors are logged and hidden.
func Error(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrState):
		BadRequest(w, err.Error(), nil)
	case errors.Is(err, service.ErrForbidden):
		Forbidden(w, err.Error(), nil)
	case errors.Is(err, service.ErrNotFound):
		NotFound(w, err.Error(), nil)
	default:
		InternalServerError(w, msg, err)
	}
}

func warn(kind, msg string, err error) {
	if err != nil {
		slog.Warn(kind, "message", msg, "error", err)
	} else {
		slog.Warn(kind, "message", msg)
	}
}
