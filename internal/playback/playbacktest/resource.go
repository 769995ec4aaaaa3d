// Package playbacktest provides an in-process playback.Resource for tests.
package playbacktest

import (
	"context"
	"sync"

	"github.com/tribeat/server/internal/playback"
)

// Resource is a scriptable playback.Resource. With AutoLoad set, Load reports MetadataReady
// with Duration right away; otherwise the test drives events through Emit.
type Resource struct {
	Duration float64
	AutoLoad bool
	PlayErr  error

	mu       sync.Mutex
	handler  func(playback.Event)
	url      string
	paused   bool
	position float64
	volume   float64
	released bool
	seeks    []float64
	plays    int
	pauses   int
}

func NewResource(duration float64) *Resource {
	return &Resource{
		Duration: duration,
		AutoLoad: true,
		paused:   true,
	}
}

func (r *Resource) Bind(handler func(playback.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handler = handler
}

func (r *Resource) Load(url string) {
	r.mu.Lock()
	r.url = url
	r.paused = true
	r.position = 0
	auto := r.AutoLoad
	d := r.Duration
	r.mu.Unlock()

	if auto {
		r.Emit(playback.Event{Kind: playback.MetadataReady, Duration: d})
	}
}

func (r *Resource) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.plays++
	if r.PlayErr != nil {
		err := r.PlayErr
		r.mu.Unlock()
		return err
	}
	wasPaused := r.paused
	r.paused = false
	r.mu.Unlock()

	if wasPaused {
		r.Emit(playback.Event{Kind: playback.Started})
	}

	return nil
}

func (r *Resource) Pause() {
	r.mu.Lock()
	r.pauses++
	wasPaused := r.paused
	r.paused = true
	r.mu.Unlock()

	if !wasPaused {
		r.Emit(playback.Event{Kind: playback.Paused})
	}
}

func (r *Resource) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.paused
}

func (r *Resource) Seek(seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.position = seconds
	r.seeks = append(r.seeks, seconds)
}

func (r *Resource) SetVolume(level float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.volume = level
}

func (r *Resource) Position() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.position
}

func (r *Resource) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.released = true
}

// SetPosition moves the playhead without reporting anything, as real playback does.
func (r *Resource) SetPosition(seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.position = seconds
}

// Finish simulates the media reaching its end.
func (r *Resource) Finish() {
	r.mu.Lock()
	r.paused = true
	r.position = r.Duration
	r.mu.Unlock()

	r.Emit(playback.Event{Kind: playback.Ended})
}

func (r *Resource) Emit(ev playback.Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()

	if h != nil {
		h(ev)
	}
}

func (r *Resource) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.url
}

func (r *Resource) Volume() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.volume
}

func (r *Resource) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.released
}

func (r *Resource) Seeks() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]float64(nil), r.seeks...)
}

func (r *Resource) Plays() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.plays
}

func (r *Resource) Pauses() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pauses
}
