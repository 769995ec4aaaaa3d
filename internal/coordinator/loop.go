package coordinator

import (
	"context"
	"log/slog"

	"github.com/tribeat/server/internal/channel"
	"github.com/tribeat/server/internal/protocol"
)

// loop is the only goroutine that applies deliveries, so they take effect in arrival order.
func (c *Coordinator) loop(ctx context.Context, sub channel.Subscription, logger *slog.Logger) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-sub.Deliveries():
			if !ok {
				logger.Debug("subscription closed")
				return
			}

			switch {
			case d.Membership != nil:
				c.handleMembership(ctx, *d.Membership, logger)
			case d.Message != nil:
				if c.handleMessage(ctx, *d.Message, logger) {
					return
				}
			}
		}
	}
}

func (c *Coordinator) handleMembership(ctx context.Context, m channel.Membership, logger *slog.Logger) {
	c.mu.Lock()
	c.participants = m.Count
	role := c.role
	c.mu.Unlock()

	logger.Debug("membership changed", "kind", m.Kind.String(), "user_id", m.Member.ID, "count", m.Count)

	if c.onPresence != nil {
		c.onPresence(m)
	}

	if role == RoleController && m.Kind == channel.MemberJoined {
		if err := c.announceState(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("failed to publish state for new participant", "error", err)
		}
	}
}

// handleMessage applies one message and reports whether the loop should stop.
func (c *Coordinator) handleMessage(ctx context.Context, msg protocol.Message, logger *slog.Logger) bool {
	payload, err := protocol.Decode(msg)
	if err != nil {
		logger.Debug("dropping message", "event", msg.Event, "error", err)
		return false
	}

	c.mu.Lock()
	role := c.role
	sessionID := c.sessionID
	loaded := c.mediaURL != nil
	c.mu.Unlock()

	if role == RoleController {
		// A controller only adopts a stored state to resume a session it has not loaded yet.
		if s, ok := payload.(*protocol.SessionState); ok && !loaded && s.SessionID == sessionID && s.MediaURL != nil {
			c.applyState(ctx, s)
		}
		return false
	}

	switch ev := payload.(type) {
	case *protocol.PlayEvent:
		if ev.SessionID != sessionID {
			return false
		}
		c.setRemotePlaying(true)
		c.player.SyncWithRemote(ctx, ev.CurrentTime, true, ev.Timestamp)
	case *protocol.PauseEvent:
		if ev.SessionID != sessionID {
			return false
		}
		c.setRemotePlaying(false)
		c.player.SyncWithRemote(ctx, ev.CurrentTime, false, ev.Timestamp)
	case *protocol.SeekEvent:
		if ev.SessionID != sessionID {
			return false
		}
		c.player.SyncWithRemote(ctx, ev.CurrentTime, c.getRemotePlaying(), ev.Timestamp)
	case *protocol.VolumeEvent:
		if ev.SessionID != sessionID {
			return false
		}
		c.player.SetVolume(ev.Volume)
	case *protocol.SessionState:
		if ev.SessionID != sessionID {
			return false
		}
		if ev.Status == protocol.StatusEnded {
			logger.Info("session already ended")
			c.end()
			return true
		}
		c.applyState(ctx, ev)
	case *protocol.EndEvent:
		if ev.SessionID != sessionID {
			return false
		}
		logger.Info("session ended by controller")
		c.end()
		return true
	}

	return false
}

// applyState snaps to a full snapshot regardless of the drift deadband.
func (c *Coordinator) applyState(ctx context.Context, s *protocol.SessionState) {
	c.mu.Lock()
	changed := s.MediaURL != nil && (c.mediaURL == nil || *c.mediaURL != *s.MediaURL)
	if changed {
		url := *s.MediaURL
		c.mediaURL = &url
	}
	c.remotePlaying = s.IsPlaying
	c.mu.Unlock()

	if changed {
		c.player.Load(*s.MediaURL)
	}
	c.player.SetVolume(s.Volume)
	c.player.Snap(ctx, s.CurrentTime, s.IsPlaying, s.Timestamp)
}

func (c *Coordinator) setRemotePlaying(playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remotePlaying = playing
}

func (c *Coordinator) getRemotePlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.remotePlaying
}
