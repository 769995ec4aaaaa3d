package connection

import (
	"errors"

	"github.com/tribeat/server/internal/channel"
	"github.com/tribeat/server/internal/identity"
)

var (
	ErrNotFound      = errors.New("connection not found")
	ErrAlreadyExists = errors.New("connection already exists")
)

// Client is one websocket viewer of a session on this server instance.
type Client struct {
	SessionID    string
	Viewer       identity.Viewer
	Subscription channel.Subscription
}
