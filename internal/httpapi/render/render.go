// internal/httpapi/render/render.go
package render

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"libraryapi/internal/apperror"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

// ErrorDetails is the body of every non-2xx response.
type ErrorDetails struct {
	StatusCode       int               `json:"status_code"`
	Message          string            `json:"message"`
	ValidationErrors map[string]string `json:"validation_errors,omitempty"`
}

// Message is the body of mutation endpoints that only confirm success.
type Message struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

// OK writes a confirmation message with optional data.
func OK(w http.ResponseWriter, message string, data any) {
	JSON(w, http.StatusOK, Message{Message: message, Data: data})
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(err error) int {
	switch apperror.KindOf(err) {
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindInvalidOperation, apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as ErrorDetails. Internal errors are logged and replaced
// by a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	details := ErrorDetails{
		StatusCode: status,
		Message:    apperror.Message(err, http.StatusText(status)),
	}

	var appErr *apperror.Error
	if errors.As(err, &appErr) && len(appErr.Fields) > 0 {
		details.ValidationErrors = appErr.Fields
	}

	if status == http.StatusInternalServerError {
		details.Message = "an unexpected error occurred"
		slog.Default().ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}

	JSON(w, status, details)
}

// Decode reads a JSON body into v. Malformed bodies yield a validation error.
func Decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperror.Validation("could not read request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperror.Validation("malformed request body")
	}
	return nil
}

// Int64Param parses a positive integer path parameter.
func Int64Param(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.Validation("invalid %s %q", name, raw)
	}
	return id, nil
}

// UUIDParam parses a UUID path parameter.
func UUIDParam(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid %s %q", name, raw)
	}
	return id, nil
}
