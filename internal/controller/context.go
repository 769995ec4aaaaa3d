package controller

import (
	"context"

	"github.com/tribeat/server/internal/identity"
)

type contextKey int

const (
	viewerCtxKey contextKey = iota
	sessionIdCtxKey
)

func (c controller) getViewerFromCtx(ctx context.Context) identity.Viewer {
	viewer, ok := ctx.Value(viewerCtxKey).(identity.Viewer)
	if !ok {
		return identity.Viewer{}
	}

	return viewer
}

func (c controller) getSessionIdFromCtx(ctx context.Context) string {
	sessionId, ok := ctx.Value(sessionIdCtxKey).(string)
	if !ok {
		return ""
	}

	return sessionId
}
