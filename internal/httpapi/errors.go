package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"petalsmon/internal/chat"
	"petalsmon/internal/monitor"
	"petalsmon/internal/supervisor"
	"petalsmon/internal/validate"
	"petalsmon/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case validate.IsValidation(err), errors.Is(err, chat.ErrEmptyPrompt):
		return http.StatusBadRequest
	case supervisor.IsUsage(err), errors.Is(err, monitor.ErrChatDisabled), errors.Is(err, chat.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, chat.ErrBusy):
		return http.StatusTooManyRequests
	case supervisor.IsSpawn(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &he):
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	countRejection(status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeError maps err and writes it.
func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}
