package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/tribeat/server/pkg/ctxlogger"
	"github.com/tribeat/server/pkg/rest"
)

func (c controller) requestIdMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = ctxlogger.AppendCtx(ctx, slog.String("request_id", c.generateTimeBasedId()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c controller) requestLoggingMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		c.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// authMw resolves the viewer from the bearer token, or from the token query parameter for
// websocket clients that cannot set headers.
func (c controller) authMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer, err := c.sessionService.Authenticate(c.getToken(r))
		if err != nil {
			c.logger.DebugContext(r.Context(), "failed to authenticate", "error", err)
			rest.WriteJSON(w, http.StatusUnauthorized, rest.Envelope{"error": "unauthorized"})
			return
		}

		ctx := context.WithValue(r.Context(), viewerCtxKey, viewer)
		ctx = ctxlogger.AppendCtx(ctx, slog.String("user_id", viewer.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
