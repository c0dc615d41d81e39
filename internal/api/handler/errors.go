package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/logistica/internal/api/response"
	"github.com/edvin/logistica/internal/core"
	"github.com/edvin/logistica/internal/workflow"
)

// writeServiceError maps service errors to status codes. Unexpected errors
// are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidRequest), errors.Is(err, core.ErrJobNotDeletable):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrAdmissionDenied):
		status = http.StatusTooManyRequests
	case errors.Is(err, core.ErrNotRunning), errors.Is(err, core.ErrInvalidTransition), errors.Is(err, core.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		response.WriteError(w, status, "internal error")
		return
	}
	response.WriteError(w, status, err.Error())
}
