// Package protocol defines the wire vocabulary shared by the coach and the participants of a
// live session: channel names, event kinds and payload shapes.
package protocol

type Kind string

// Event kinds. These strings are a wire contract and must not change.
const (
	KindState  Kind = "session:state"
	KindPlay   Kind = "session:play"
	KindPause  Kind = "session:pause"
	KindSeek   Kind = "session:seek"
	KindVolume Kind = "session:volume"
	KindEnd    Kind = "session:end"

	KindParticipantJoined Kind = "participant:joined"
	KindParticipantLeft   Kind = "participant:left"
	KindParticipantCount  Kind = "participant:count"
)

type Status string

const (
	StatusLive   Status = "LIVE"
	StatusPaused Status = "PAUSED"
	StatusEnded  Status = "ENDED"
)

// Kinds lists every known event kind.
var Kinds = []Kind{
	KindState, KindPlay, KindPause, KindSeek, KindVolume, KindEnd,
	KindParticipantJoined, KindParticipantLeft, KindParticipantCount,
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}

	return false
}

// IsTransport reports whether k may only be emitted by the session controller.
func (k Kind) IsTransport() bool {
	switch k {
	case KindState, KindPlay, KindPause, KindSeek, KindVolume, KindEnd:
		return true
	}

	return false
}

func (k Kind) IsPresence() bool {
	switch k {
	case KindParticipantJoined, KindParticipantLeft, KindParticipantCount:
		return true
	}

	return false
}

// SessionState is the full snapshot of a session. It is always derived, never stored as the
// source of truth by a participant. Timestamp is epoch milliseconds on the sender.
type SessionState struct {
	SessionID   string  `json:"sessionId"`
	Status      Status  `json:"status"`
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	Volume      int     `json:"volume"`
	MediaURL    *string `json:"mediaUrl"`
	CoachID     string  `json:"coachId"`
	Timestamp   int64   `json:"timestamp"`
}

type PlayEvent struct {
	SessionID   string  `json:"sessionId"`
	CurrentTime float64 `json:"currentTime"`
	Timestamp   int64   `json:"timestamp"`
}

type PauseEvent struct {
	SessionID   string  `json:"sessionId"`
	CurrentTime float64 `json:"currentTime"`
	Timestamp   int64   `json:"timestamp"`
}

type SeekEvent struct {
	SessionID   string  `json:"sessionId"`
	CurrentTime float64 `json:"currentTime"`
	Timestamp   int64   `json:"timestamp"`
}

type VolumeEvent struct {
	SessionID string `json:"sessionId"`
	Volume    int    `json:"volume"`
}

type EndEvent struct {
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

// ParticipantEvent is informational only and never drives playback.
type ParticipantEvent struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	UserName  string `json:"userName,omitempty"`
	Count     int    `json:"count"`
}
