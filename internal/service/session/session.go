package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tribeat/server/internal/identity"
	"github.com/tribeat/server/internal/playback"
	"github.com/tribeat/server/internal/protocol"
	repo "github.com/tribeat/server/internal/repository/session"
)

func toSessionState(sessionID string, stored repo.Session) protocol.SessionState {
	state := protocol.SessionState{
		SessionID:   sessionID,
		Status:      protocol.Status(stored.Status),
		IsPlaying:   stored.IsPlaying,
		CurrentTime: stored.CurrentTime,
		Volume:      stored.Volume,
		CoachID:     stored.CoachID,
		Timestamp:   stored.PositionAt,
	}
	if state.Timestamp == 0 {
		state.Timestamp = stored.UpdatedAt
	}
	if stored.MediaURL != "" {
		mediaURL := stored.MediaURL
		state.MediaURL = &mediaURL
	}

	return state
}

type CreateSessionParams struct {
	Creator  identity.Viewer
	MediaURL *string
}

type CreateSessionResponse struct {
	SessionID   string
	ChannelName string
	State       protocol.SessionState
}

func (s service) CreateSession(ctx context.Context, params *CreateSessionParams) (CreateSessionResponse, error) {
	if !params.Creator.CanHost() {
		return CreateSessionResponse{}, ErrPermissionDenied
	}

	sessionID := uuid.NewString()
	if err := s.sessionRepo.SetSession(ctx, &repo.SetSessionParams{
		SessionID: sessionID,
		CoachID:   params.Creator.UserID,
		Status:    string(protocol.StatusPaused),
		Volume:    playback.DefaultVolume,
		MediaURL:  params.MediaURL,
		UpdatedAt: s.now().UnixMilli(),
	}); err != nil {
		return CreateSessionResponse{}, fmt.Errorf("failed to set session: %w", err)
	}

	stored, err := s.getSession(ctx, sessionID)
	if err != nil {
		return CreateSessionResponse{}, fmt.Errorf("failed to get session: %w", err)
	}

	s.logger.InfoContext(ctx, "session created", "session_id", sessionID, "coach_id", params.Creator.UserID)

	return CreateSessionResponse{
		SessionID:   sessionID,
		ChannelName: protocol.ChannelName(sessionID),
		State:       toSessionState(sessionID, stored),
	}, nil
}

func (s service) GetState(ctx context.Context, sessionID string) (protocol.SessionState, error) {
	stored, err := s.getSession(ctx, sessionID)
	if err != nil {
		return protocol.SessionState{}, err
	}

	return toSessionState(sessionID, stored), nil
}
