package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/tribeat/server/internal/identity"
	"github.com/tribeat/server/internal/protocol"
	"github.com/tribeat/server/internal/service/session"
	"github.com/tribeat/server/pkg/validator"
	"github.com/tribeat/server/pkg/wsrouter"
)

type iSessionService interface {
	Authenticate(string) (identity.Viewer, error)
	CreateSession(context.Context, *session.CreateSessionParams) (session.CreateSessionResponse, error)
	GetState(context.Context, string) (protocol.SessionState, error)
	PublishEvent(context.Context, *session.PublishEventParams) (session.PublishEventResponse, error)
	ConnectViewer(context.Context, *session.ConnectViewerParams) (session.ConnectViewerResponse, error)
	DisconnectViewer(context.Context, *websocket.Conn) error
	HandleViewerMessage(context.Context, *session.HandleViewerMessageParams) error
	SendError(*websocket.Conn, string) error
}

type controller struct {
	sessionService iSessionService
	upgrader       websocket.Upgrader
	wsmux          *wsrouter.WSRouter
	validate       *validator.Validator
	logger         *slog.Logger
}

func NewController(sessionService iSessionService, logger *slog.Logger) *controller {
	c := &controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessionService: sessionService,
		validate:       validator.NewValidator(),
		logger:         logger,
	}
	c.wsmux = c.getWSRouter()

	return c
}
