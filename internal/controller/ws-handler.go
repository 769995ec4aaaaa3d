package controller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/tribeat/server/internal/protocol"
	"github.com/tribeat/server/internal/service/session"
	"github.com/tribeat/server/pkg/ctxlogger"
	"github.com/tribeat/server/pkg/rest"
	"github.com/tribeat/server/pkg/wsrouter"
)

func (c controller) connectSession(w http.ResponseWriter, r *http.Request) {
	sessionId := chi.URLParam(r, "session-id")
	viewer := c.getViewerFromCtx(r.Context())

	if _, err := c.sessionService.GetState(r.Context(), sessionId); err != nil {
		c.writeError(w, r, err)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("session_id", sessionId))
	ctx = context.WithValue(ctx, sessionIdCtxKey, sessionId)

	if _, err := c.sessionService.ConnectViewer(ctx, &session.ConnectViewerParams{
		Conn:      conn,
		SessionID: sessionId,
		Viewer:    viewer,
	}); err != nil {
		c.logger.WarnContext(ctx, "failed to connect viewer", "error", err)
		_, message := c.errorStatus(err)
		conn.WriteJSON(rest.Envelope{"event": session.ErrorEvent, "data": session.ErrorData{Message: message}})
		return
	}
	defer func() {
		if err := c.sessionService.DisconnectViewer(context.WithoutCancel(ctx), conn); err != nil {
			c.logger.InfoContext(ctx, "failed to disconnect viewer", "error", err)
		}
	}()

	c.logger.InfoContext(ctx, "viewer connected", "role", viewer.Role)

	if err := c.wsmux.ServeConn(ctx, conn); err != nil {
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.logger.InfoContext(ctx, "websocket closed", "error", err)
		}
	}
}

// handleTransportEvent publishes a transport event sent by the coach over the socket.
func (c controller) handleTransportEvent(ctx context.Context, conn *websocket.Conn, data json.RawMessage) error {
	return c.sessionService.HandleViewerMessage(ctx, &session.HandleViewerMessageParams{
		Conn:  conn,
		Event: protocol.Kind(wsrouter.GetMessageTypeFromCtx(ctx)),
		Data:  data,
	})
}

func (c controller) handleWSError(ctx context.Context, conn *websocket.Conn, err error) {
	_, message := c.errorStatus(err)
	if errors.Is(err, wsrouter.ErrUnknownMessageType) {
		message = session.ErrInvalidEvent.Error()
	}

	c.logger.InfoContext(ctx, "websocket message rejected", "error", err)
	if err := c.sessionService.SendError(conn, message); err != nil {
		c.logger.InfoContext(ctx, "failed to send error", "error", err)
	}
}
