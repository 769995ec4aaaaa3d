package media

import (
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// Sink plays streamers. The audio graph of a playing streamer may only be touched between
// Lock and Unlock.
type Sink interface {
	SampleRate() beep.SampleRate
	Play(s beep.Streamer)
	Clear()
	Lock()
	Unlock()
}

type speakerSink struct {
	sr beep.SampleRate
}

// NewSpeakerSink opens the default audio device at sr with a 100ms buffer.
func NewSpeakerSink(sr beep.SampleRate) (Sink, error) {
	if err := speaker.Init(sr, sr.N(100*time.Millisecond)); err != nil {
		return nil, err
	}

	return &speakerSink{sr: sr}, nil
}

func (s *speakerSink) SampleRate() beep.SampleRate { return s.sr }
func (s *speakerSink) Play(st beep.Streamer)       { speaker.Play(st) }
func (s *speakerSink) Clear()                      { speaker.Clear() }
func (s *speakerSink) Lock()                       { speaker.Lock() }
func (s *speakerSink) Unlock()                     { speaker.Unlock() }
