package controller

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tribeat/server/internal/service/session"
	"github.com/tribeat/server/pkg/rest"
)

const bearerPrefix = "Bearer "

func (c controller) generateTimeBasedId() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

func (c controller) getToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	}

	return r.URL.Query().Get("token")
}

// errorStatus maps service errors to an HTTP status and the message shown to the caller.
func (c controller) errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden, session.ErrPermissionDenied.Error()
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, session.ErrSessionNotFound.Error()
	case errors.Is(err, session.ErrSessionEnded):
		return http.StatusConflict, session.ErrSessionEnded.Error()
	case errors.Is(err, session.ErrInvalidEvent),
		errors.Is(err, session.ErrMissingData),
		errors.Is(err, session.ErrInvalidPayload):
		return http.StatusBadRequest, err.Error()
	}

	return http.StatusInternalServerError, "internal server error"
}

func (c controller) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := c.errorStatus(err)
	if status == http.StatusInternalServerError {
		c.logger.ErrorContext(r.Context(), "request failed", "error", err)
	} else {
		c.logger.InfoContext(r.Context(), "request rejected", "status", status, "error", err)
	}

	rest.WriteJSON(w, status, rest.Envelope{"error": message})
}
