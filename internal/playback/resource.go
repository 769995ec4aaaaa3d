package playback

import "context"

type EventKind int

const (
	MetadataReady EventKind = iota + 1
	Started
	Paused
	Ended
	Failed
	PositionTick
)

func (k EventKind) String() string {
	switch k {
	case MetadataReady:
		return "metadata-ready"
	case Started:
		return "play"
	case Paused:
		return "pause"
	case Ended:
		return "ended"
	case Failed:
		return "error"
	case PositionTick:
		return "position-tick"
	}

	return "unknown"
}

// Event is reported by a Resource. Duration is set for MetadataReady, Position for
// PositionTick and Err for Failed.
type Event struct {
	Kind     EventKind
	Duration float64
	Position float64
	Err      error
}

// Resource is the platform audio primitive a Controller drives. Implementations report
// lifecycle changes through the handler passed to Bind and must not hold their own locks while
// calling it.
type Resource interface {
	Bind(handler func(Event))
	// Load starts loading url; the outcome arrives as MetadataReady or Failed.
	Load(url string)
	// Play returns once audio is produced or the resource refuses to play.
	Play(ctx context.Context) error
	Pause()
	Paused() bool
	Seek(seconds float64)
	// SetVolume takes a linear level in [0, 1].
	SetVolume(level float64)
	Position() float64
	Release()
}
