package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marmos91/cloudstore/internal/logger"
	"github.com/marmos91/cloudstore/pkg/auth"
	"github.com/marmos91/cloudstore/pkg/storage"
)

// Payload is the envelope of every JSON response.
type Payload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// writeJSON sends payload with the given status.
func writeJSON(w http.ResponseWriter, status int, payload Payload) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug("Failed to write response: %v", err)
	}
}

func writeOK(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Payload{Success: true, Message: message, Data: data})
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Payload{Success: false, Message: message})
}

// writeError maps err to a status code and sends it. Internal failures are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorData(w, r, err, nil)
}

func writeErrorData(w http.ResponseWriter, r *http.Request, err error, data any) {
	status := statusFor(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("%s %s [%s]: %v", r.Method, r.URL.Path, requestID(r.Context()), err)
		message = "internal server error"
	}

	writeJSON(w, status, Payload{Success: false, Message: message, Data: data})
}

// statusFor returns the HTTP status for an error of the storage or auth layer.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, storage.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, storage.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrStorageFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, auth.ErrMissingCredentials), errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrTokensDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
