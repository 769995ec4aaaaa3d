package controller

import (
	"encoding/json"

	"github.com/tribeat/server/internal/protocol"
	"github.com/tribeat/server/pkg/wsrouter"
)

func (c controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()
	mux.Use(c.wsRequestIdWSMw(), c.loggerWSMw())
	mux.OnError(c.handleWSError)

	for _, kind := range protocol.Kinds {
		if kind.IsTransport() {
			wsrouter.Handle[json.RawMessage](mux, string(kind), c.handleTransportEvent)
		}
	}

	return mux
}
