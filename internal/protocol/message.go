package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/exp/slices"
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMissingData    = errors.New("missing event data")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Message is the envelope every event travels in.
type Message struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewMessage(kind Kind, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	return Message{Event: kind, Data: data}, nil
}

var sessionIDRule = []validation.Rule{
	validation.Required,
	validation.Match(regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)),
}

var timeRule = []validation.Rule{
	validation.Min(0.0),
}

var volumeRule = []validation.Rule{
	validation.Min(0),
	validation.Max(100),
}

var timestampRule = []validation.Rule{
	validation.Min(int64(0)),
}

// Media is fetched by every participant, so only network URLs can be shared.
var mediaURLRule = []validation.Rule{
	validation.NilOrNotEmpty,
	validation.Length(0, 2048),
	is.RequestURL,
	validation.Match(regexp.MustCompile(`(?i)^https?://`)).Error("must be an http or https URL"),
}

// ValidateMediaURL reports whether rawURL can be shared as session media.
func ValidateMediaURL(rawURL string) error {
	return validation.Validate(rawURL, append([]validation.Rule{validation.Required}, mediaURLRule...)...)
}

// requiredFields lists the keys a payload must carry. A zero value is meaningful for each of
// them, so absence cannot be told from the decoded struct.
var requiredFields = map[Kind][]string{
	KindState:  {"sessionId", "status", "isPlaying", "currentTime", "volume", "timestamp"},
	KindPlay:   {"sessionId", "currentTime", "timestamp"},
	KindPause:  {"sessionId", "currentTime", "timestamp"},
	KindSeek:   {"sessionId", "currentTime", "timestamp"},
	KindVolume: {"sessionId", "volume"},
	KindEnd:    {"sessionId", "timestamp"},
}

// CheckFields returns ErrInvalidPayload when data lacks a key kind requires or sets it to null.
// Keys listed in stamped are filled in by the caller and not checked.
func CheckFields(kind Kind, data json.RawMessage, stamped ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
	}

	for _, key := range requiredFields[kind] {
		if slices.Contains(stamped, key) {
			continue
		}
		if v, ok := fields[key]; !ok || string(v) == "null" {
			return fmt.Errorf("%w: %s: missing %s", ErrInvalidPayload, kind, key)
		}
	}

	return nil
}

func (s SessionState) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.SessionID, sessionIDRule...),
		validation.Field(&s.Status, validation.Required, validation.In(StatusLive, StatusPaused, StatusEnded)),
		validation.Field(&s.CurrentTime, timeRule...),
		validation.Field(&s.Volume, volumeRule...),
		validation.Field(&s.MediaURL, mediaURLRule...),
		validation.Field(&s.Timestamp, timestampRule...),
	)
}

func (e PlayEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.SessionID, sessionIDRule...),
		validation.Field(&e.CurrentTime, timeRule...),
		validation.Field(&e.Timestamp, timestampRule...),
	)
}

func (e PauseEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.SessionID, sessionIDRule...),
		validation.Field(&e.CurrentTime, timeRule...),
		validation.Field(&e.Timestamp, timestampRule...),
	)
}

func (e SeekEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.SessionID, sessionIDRule...),
		validation.Field(&e.CurrentTime, timeRule...),
		validation.Field(&e.Timestamp, timestampRule...),
	)
}

func (e VolumeEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.SessionID, sessionIDRule...),
		validation.Field(&e.Volume, volumeRule...),
	)
}

func (e EndEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.SessionID, sessionIDRule...),
		validation.Field(&e.Timestamp, timestampRule...),
	)
}

func (e ParticipantEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.SessionID, sessionIDRule...),
		validation.Field(&e.Count, validation.Min(0)),
	)
}

// NewPayload returns a zero payload of the type carried by kind.
func NewPayload(kind Kind) (validation.Validatable, error) {
	switch kind {
	case KindState:
		return &SessionState{}, nil
	case KindPlay:
		return &PlayEvent{}, nil
	case KindPause:
		return &PauseEvent{}, nil
	case KindSeek:
		return &SeekEvent{}, nil
	case KindVolume:
		return &VolumeEvent{}, nil
	case KindEnd:
		return &EndEvent{}, nil
	case KindParticipantJoined, KindParticipantLeft, KindParticipantCount:
		return &ParticipantEvent{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
}

// Decode parses and validates msg. The returned value is a pointer to the payload type of
// msg.Event (*PlayEvent for session:play and so on).
func Decode(msg Message) (any, error) {
	payload, err := NewPayload(msg.Event)
	if err != nil {
		return nil, err
	}

	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		return nil, fmt.Errorf("%w: %s", ErrMissingData, msg.Event)
	}

	if err := json.Unmarshal(msg.Data, payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, msg.Event, err)
	}

	if err := CheckFields(msg.Event, msg.Data); err != nil {
		return nil, err
	}

	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, msg.Event, err)
	}

	return payload, nil
}
