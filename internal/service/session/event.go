package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tribeat/server/internal/identity"
	"github.com/tribeat/server/internal/protocol"
	repo "github.com/tribeat/server/internal/repository/session"
)

type PublishEventParams struct {
	SessionID string
	Sender    identity.Viewer
	Event     protocol.Kind
	Data      json.RawMessage
}

type PublishEventResponse struct {
	Message     protocol.Message
	ChannelName string
}

// PublishEvent accepts a transport event from the session's coach, stamps it with the session id
// and the server time, stores its effect and broadcasts it on the session channel.
func (s service) PublishEvent(ctx context.Context, params *PublishEventParams) (PublishEventResponse, error) {
	if !params.Event.IsTransport() {
		return PublishEventResponse{}, fmt.Errorf("%w: %q", ErrInvalidEvent, params.Event)
	}

	if len(params.Data) == 0 || string(params.Data) == "null" {
		return PublishEventResponse{}, ErrMissingData
	}

	stored, err := s.getSession(ctx, params.SessionID)
	if err != nil {
		return PublishEventResponse{}, err
	}

	if err := s.checkIfCoach(stored, params.Sender); err != nil {
		return PublishEventResponse{}, err
	}

	if protocol.Status(stored.Status) == protocol.StatusEnded {
		return PublishEventResponse{}, ErrSessionEnded
	}

	payload, err := protocol.NewPayload(params.Event)
	if err != nil {
		return PublishEventResponse{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if err := json.Unmarshal(params.Data, payload); err != nil {
		return PublishEventResponse{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	// the server fills in routing fields and a missing status, so senders may omit them
	if err := protocol.CheckFields(params.Event, params.Data, "sessionId", "timestamp", "status"); err != nil {
		return PublishEventResponse{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	nowMs := s.now().UnixMilli()
	update := stamp(payload, params.SessionID, stored.CoachID, nowMs)

	if err := payload.Validate(); err != nil {
		return PublishEventResponse{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	update.SessionID = params.SessionID
	update.UpdatedAt = nowMs
	if update.CurrentTime != nil {
		update.PositionAt = ptr(nowMs)
	}
	if err := s.sessionRepo.UpdateSession(ctx, &update); err != nil {
		return PublishEventResponse{}, fmt.Errorf("failed to update session: %w", err)
	}

	msg, err := protocol.NewMessage(params.Event, payload)
	if err != nil {
		return PublishEventResponse{}, err
	}

	channelName := protocol.ChannelName(params.SessionID)
	if err := s.channel.Publish(ctx, channelName, msg); err != nil {
		return PublishEventResponse{}, fmt.Errorf("failed to publish event: %w", err)
	}

	s.logger.DebugContext(ctx, "event published", "event", params.Event, "channel", channelName)

	return PublishEventResponse{
		Message:     msg,
		ChannelName: channelName,
	}, nil
}

// stamp overwrites the routing fields of payload and returns the stored fields it changes.
func stamp(payload any, sessionID, coachID string, nowMs int64) repo.UpdateSessionParams {
	var update repo.UpdateSessionParams

	switch p := payload.(type) {
	case *protocol.PlayEvent:
		p.SessionID = sessionID
		p.Timestamp = nowMs
		update.IsPlaying = ptr(true)
		update.CurrentTime = ptr(p.CurrentTime)
		update.Status = ptr(string(protocol.StatusLive))
	case *protocol.PauseEvent:
		p.SessionID = sessionID
		p.Timestamp = nowMs
		update.IsPlaying = ptr(false)
		update.CurrentTime = ptr(p.CurrentTime)
		update.Status = ptr(string(protocol.StatusPaused))
	case *protocol.SeekEvent:
		p.SessionID = sessionID
		p.Timestamp = nowMs
		update.CurrentTime = ptr(p.CurrentTime)
	case *protocol.VolumeEvent:
		p.SessionID = sessionID
		update.Volume = ptr(p.Volume)
	case *protocol.EndEvent:
		p.SessionID = sessionID
		p.Timestamp = nowMs
		update.IsPlaying = ptr(false)
		update.Status = ptr(string(protocol.StatusEnded))
	case *protocol.SessionState:
		p.SessionID = sessionID
		p.CoachID = coachID
		p.Timestamp = nowMs
		if p.Status == "" {
			p.Status = protocol.StatusPaused
			if p.IsPlaying {
				p.Status = protocol.StatusLive
			}
		}
		update.Status = ptr(string(p.Status))
		update.IsPlaying = ptr(p.IsPlaying)
		update.CurrentTime = ptr(p.CurrentTime)
		update.Volume = ptr(p.Volume)
		if p.MediaURL != nil {
			update.MediaURL = ptr(*p.MediaURL)
		}
	}

	return update
}

func ptr[T any](v T) *T {
	return &v
}
