package session

import (
	"context"
	"time"

	"github.com/tribeat/server/internal/protocol"
)

// SendStatePeriodically writes the stored state of every session with local viewers to those
// viewers every StateInterval until ctx is done. It returns at once when the interval is zero.
func (s service) SendStatePeriodically(ctx context.Context) {
	if s.stateInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.stateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendStateToLocalViewers(ctx)
		}
	}
}

func (s service) sendStateToLocalViewers(ctx context.Context) {
	for _, sessionID := range s.connRepo.GetSessionIDs() {
		state, err := s.GetState(ctx, sessionID)
		if err != nil {
			s.logger.InfoContext(ctx, "failed to get state", "session_id", sessionID, "error", err)
			continue
		}

		if state.Status == protocol.StatusEnded {
			continue
		}

		msg, err := protocol.NewMessage(protocol.KindState, state)
		if err != nil {
			continue
		}

		for _, conn := range s.connRepo.GetSessionConns(sessionID) {
			if err := s.connRepo.Write(conn, msg); err != nil {
				s.logger.DebugContext(ctx, "failed to send state", "session_id", sessionID, "error", err)
			}
		}
	}
}
