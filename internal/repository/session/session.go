package session

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyExists = errors.New("session already exists")
)

// Session is the last known state of a live session, one redis hash per session.
type Session struct {
	CoachID     string  `redis:"coach_id"`
	Status      string  `redis:"status"`
	IsPlaying   bool    `redis:"is_playing"`
	CurrentTime float64 `redis:"current_time"`
	Volume      int     `redis:"volume"`
	MediaURL    string  `redis:"media_url"`
	UpdatedAt   int64   `redis:"updated_at"`
	// PositionAt is when CurrentTime was last written, in unix millis.
	PositionAt int64 `redis:"position_at"`
}

type SetSessionParams struct {
	SessionID string
	CoachID   string
	Status    string
	Volume    int
	MediaURL  *string
	UpdatedAt int64
}

// UpdateSessionParams changes only the non-nil fields. Concurrent writers win per field.
type UpdateSessionParams struct {
	SessionID   string
	Status      *string
	IsPlaying   *bool
	CurrentTime *float64
	Volume      *int
	MediaURL    *string
	UpdatedAt   int64
	PositionAt  *int64
}
