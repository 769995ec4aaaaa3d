package redis

import (
	"context"
	"fmt"

	"github.com/tribeat/server/internal/repository/session"
)

func (r repo) getSessionKey(sessionID string) string {
	return "session:" + sessionID + ":state"
}

type sessionFields struct {
	CoachID     *string  `redis:"coach_id"`
	Status      *string  `redis:"status"`
	IsPlaying   *bool    `redis:"is_playing"`
	CurrentTime *float64 `redis:"current_time"`
	Volume      *int     `redis:"volume"`
	MediaURL    *string  `redis:"media_url"`
	UpdatedAt   *int64   `redis:"updated_at"`
	PositionAt  *int64   `redis:"position_at"`
}

func (r repo) SetSession(ctx context.Context, params *session.SetSessionParams) error {
	r.logger.DebugContext(ctx, "called", "session_id", params.SessionID)
	sessionKey := r.getSessionKey(params.SessionID)

	created, err := r.rc.HSetNX(ctx, sessionKey, "coach_id", params.CoachID).Result()
	if err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	if !created {
		return session.ErrSessionAlreadyExists
	}

	isPlaying := false
	currentTime := 0.0
	pipe := r.rc.TxPipeline()
	r.hSetStruct(ctx, pipe, sessionKey, sessionFields{
		Status:      &params.Status,
		IsPlaying:   &isPlaying,
		CurrentTime: &currentTime,
		Volume:      &params.Volume,
		MediaURL:    params.MediaURL,
		UpdatedAt:   &params.UpdatedAt,
		PositionAt:  &params.UpdatedAt,
	})
	pipe.Expire(ctx, sessionKey, r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}

	return nil
}

func (r repo) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	sessionKey := r.getSessionKey(sessionID)

	cmd := r.rc.HGetAll(ctx, sessionKey)
	if err := cmd.Err(); err != nil {
		return session.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	if len(cmd.Val()) == 0 {
		return session.Session{}, session.ErrSessionNotFound
	}

	var s session.Session
	if err := cmd.Scan(&s); err != nil {
		return session.Session{}, fmt.Errorf("failed to scan session: %w", err)
	}

	r.rc.Expire(ctx, sessionKey, r.expireDuration)

	return s, nil
}

func (r repo) UpdateSession(ctx context.Context, params *session.UpdateSessionParams) error {
	r.logger.DebugContext(ctx, "called", "session_id", params.SessionID)
	sessionKey := r.getSessionKey(params.SessionID)

	exists, err := r.rc.Exists(ctx, sessionKey).Result()
	if err != nil {
		return fmt.Errorf("failed to check if session exists: %w", err)
	}
	if exists == 0 {
		return session.ErrSessionNotFound
	}

	pipe := r.rc.TxPipeline()
	r.hSetStruct(ctx, pipe, sessionKey, sessionFields{
		Status:      params.Status,
		IsPlaying:   params.IsPlaying,
		CurrentTime: params.CurrentTime,
		Volume:      params.Volume,
		MediaURL:    params.MediaURL,
		UpdatedAt:   &params.UpdatedAt,
		PositionAt:  params.PositionAt,
	})
	pipe.Expire(ctx, sessionKey, r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return nil
}

func (r repo) RemoveSession(ctx context.Context, sessionID string) error {
	res, err := r.rc.Del(ctx, r.getSessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}

	if res == 0 {
		return session.ErrSessionNotFound
	}

	return nil
}
