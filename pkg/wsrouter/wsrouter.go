package wsrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

var ErrUnknownMessageType = errors.New("unknown message type")

type message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type HandlerFunc[T any] func(ctx context.Context, conn *websocket.Conn, payload T) error

type Middleware func(next HandlerFunc[json.RawMessage]) HandlerFunc[json.RawMessage]

// ErrorHandler is called when a handler fails. The connection stays open.
type ErrorHandler func(ctx context.Context, conn *websocket.Conn, err error)

type WSRouter struct {
	routes      map[string]HandlerFunc[json.RawMessage]
	middlewares []Middleware
	onError     ErrorHandler
}

func New() *WSRouter {
	return &WSRouter{
		routes:  make(map[string]HandlerFunc[json.RawMessage]),
		onError: func(context.Context, *websocket.Conn, error) {},
	}
}

// Handle registers handler for messageType. The raw data is decoded into T before the call.
func Handle[T any](r *WSRouter, messageType string, handler HandlerFunc[T]) {
	r.routes[messageType] = func(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
		var input T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &input); err != nil {
				return fmt.Errorf("failed to decode %s payload: %w", messageType, err)
			}
		}

		return handler(ctx, conn, input)
	}
}

func (r *WSRouter) Use(mws ...Middleware) {
	r.middlewares = append(r.middlewares, mws...)
}

func (r *WSRouter) OnError(h ErrorHandler) {
	r.onError = h
}

// Dispatch routes a single raw frame. Exposed for handlers that read frames themselves.
func (r *WSRouter) Dispatch(ctx context.Context, conn *websocket.Conn, raw []byte) error {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	handler, exists := r.routes[msg.Event]
	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Event)
	}

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	ctx = context.WithValue(ctx, messageTypeKey, msg.Event)
	return handler(ctx, conn, msg.Data)
}

// ServeConn reads frames until the connection fails or ctx is done.
func (r *WSRouter) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		if err := r.Dispatch(ctx, conn, raw); err != nil {
			r.onError(ctx, conn, err)
		}
	}
}
