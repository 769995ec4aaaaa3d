package controller

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tribeat/server/internal/protocol"
	"github.com/tribeat/server/internal/service/session"
	"github.com/tribeat/server/pkg/rest"
)

type createSessionRequest struct {
	MediaURL string `json:"media_url" validate:"omitempty,http_url,max=2048"`
}

type createSessionResponse struct {
	SessionID   string                `json:"session_id"`
	ChannelName string                `json:"channel_name"`
	State       protocol.SessionState `json:"state"`
}

func (c controller) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := rest.ReadJSON(r, &req); err != nil {
			c.logger.InfoContext(r.Context(), "failed to read json", "error", err)
			rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
			return
		}
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		c.logger.InfoContext(r.Context(), "invalid request", "errors", validationErrors)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	params := session.CreateSessionParams{
		Creator: c.getViewerFromCtx(r.Context()),
	}
	if req.MediaURL != "" {
		params.MediaURL = &req.MediaURL
	}

	resp, err := c.sessionService.CreateSession(r.Context(), &params)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:   resp.SessionID,
		ChannelName: resp.ChannelName,
		State:       resp.State,
	})
}

func (c controller) getSessionState(w http.ResponseWriter, r *http.Request) {
	state, err := c.sessionService.GetState(r.Context(), chi.URLParam(r, "session-id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{
		"success": true,
		"state":   state,
	})
}

type publishEventRequest struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

func (c controller) publishSessionEvent(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		c.logger.InfoContext(r.Context(), "failed to read json", "error", err)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		c.logger.InfoContext(r.Context(), "invalid request", "errors", validationErrors)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	resp, err := c.sessionService.PublishEvent(r.Context(), &session.PublishEventParams{
		SessionID: chi.URLParam(r, "session-id"),
		Sender:    c.getViewerFromCtx(r.Context()),
		Event:     protocol.Kind(req.Event),
		Data:      req.Data,
	})
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{
		"success":     true,
		"event":       resp.Message.Event,
		"channelName": resp.ChannelName,
	})
}
