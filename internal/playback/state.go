package playback

const (
	MinVolume     = 0
	MaxVolume     = 100
	DefaultVolume = 80
)

const (
	errLoadFailed = "audio could not be loaded"
	errPlayFailed = "playback could not be started"
)

// State is a snapshot of local playback. Controllers hand out copies only.
type State struct {
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Volume      int     `json:"volume"`
	IsLoaded    bool    `json:"isLoaded"`
	Error       string  `json:"error,omitempty"`
}

func clampTime(t, duration float64) float64 {
	return max(0, min(t, duration))
}

func clampVolume(v int) int {
	return max(MinVolume, min(MaxVolume, v))
}
