package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/mailblast-backend/internal/errors"
)

// ErrorResponse is the error envelope for all API errors.
type ErrorResponse struct {
	Message string `json:"message"`
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("encode JSON response")
	}
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Message: message})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, appErrors.ErrInvalidInput),
		errors.Is(err, appErrors.ErrNoRecipients):
		return http.StatusBadRequest
	case errors.Is(err, appErrors.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrBroadcastInProgress),
		errors.Is(err, appErrors.ErrDuplicateRecipient):
		return http.StatusConflict
	case errors.Is(err, appErrors.ErrDirectoryUnavailable),
		errors.Is(err, appErrors.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError writes the mapped status for err. Unmapped errors are logged and
// answered with a generic message.
func FromError(w http.ResponseWriter, err error, log *logrus.Entry) {
	status := StatusFor(err)
	message := err.Error()

	switch {
	case errors.Is(err, appErrors.ErrNoRecipients):
		message = "No users found to send emails to"
	case status == http.StatusInternalServerError:
		log.WithError(err).Error("request failed")
		message = "internal server error"
	case status == http.StatusServiceUnavailable:
		log.WithError(err).Warn("dependency unavailable")
	}
	Error(w, status, message)
}
