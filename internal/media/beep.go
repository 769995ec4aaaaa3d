// Package media provides playback.Resource implementations backed by real audio output.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/wav"
	"github.com/tribeat/server/internal/playback"
)

const maxMediaSize = 512 << 20

var ErrNotLoaded = errors.New("no media loaded")

// Opener fetches the raw bytes behind a media URL.
type Opener func(ctx context.Context, rawURL string) (io.ReadCloser, error)

// OpenURL reads http(s) URLs over the network and anything else from disk.
func OpenURL(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return resp.Body, nil
	}

	if err == nil && u.Scheme == "file" {
		return os.Open(u.Path)
	}

	return os.Open(rawURL)
}

// Beep plays WAV media through a Sink.
type Beep struct {
	sink   Sink
	open   Opener
	logger *slog.Logger

	mu      sync.Mutex
	handler func(playback.Event)
	gen     uint64
	cancel  context.CancelFunc
	stream  beep.StreamSeekCloser
	format  beep.Format
	ctrl    *beep.Ctrl
	vol     *effects.Volume
	level   float64
	paused  bool
	ended   bool
}

func NewBeep(sink Sink, open Opener, logger *slog.Logger) *Beep {
	if open == nil {
		open = OpenURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Beep{
		sink:   sink,
		open:   open,
		logger: logger,
		level:  1,
		paused: true,
	}
}

func (b *Beep) Bind(handler func(playback.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handler = handler
}

func (b *Beep) emit(ev playback.Event) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()

	if h != nil {
		h(ev)
	}
}

func (b *Beep) Load(rawURL string) {
	ctx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.unloadLocked()
	b.gen++
	gen := b.gen
	b.cancel = cancel
	b.mu.Unlock()

	go b.load(ctx, gen, rawURL)
}

func (b *Beep) load(ctx context.Context, gen uint64, rawURL string) {
	stream, format, err := b.decode(ctx, rawURL)
	if err != nil {
		b.mu.Lock()
		current := gen == b.gen
		b.mu.Unlock()

		if current {
			b.logger.Warn("failed to load media", "url", rawURL, "error", err)
			b.emit(playback.Event{Kind: playback.Failed, Err: err})
		}
		return
	}

	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		stream.Close()
		return
	}

	b.stream = stream
	b.format = format
	b.paused = true
	b.ended = false
	b.queueLocked(gen)
	duration := format.SampleRate.D(stream.Len()).Seconds()
	b.mu.Unlock()

	b.emit(playback.Event{Kind: playback.MetadataReady, Duration: duration})
}

func (b *Beep) decode(ctx context.Context, rawURL string) (beep.StreamSeekCloser, beep.Format, error) {
	rc, err := b.open(ctx, rawURL)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to open media: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxMediaSize))
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to read media: %w", err)
	}

	stream, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to decode media: %w", err)
	}

	return stream, format, nil
}

// queueLocked builds a fresh graph over the stream and hands it to the sink followed by an
// end-of-media callback. The callback runs on the sink's goroutine with the sink locked, so it
// reports asynchronously.
func (b *Beep) queueLocked(gen uint64) {
	b.vol = &effects.Volume{
		Streamer: beep.Resample(4, b.format.SampleRate, b.sink.SampleRate(), b.stream),
		Base:     2,
	}
	applyLevel(b.vol, b.level)
	b.ctrl = &beep.Ctrl{Streamer: b.vol, Paused: b.paused}

	b.sink.Play(beep.Seq(b.ctrl, beep.Callback(func() {
		go b.finish(gen)
	})))
}

func (b *Beep) finish(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || b.ended {
		b.mu.Unlock()
		return
	}
	b.ended = true
	b.paused = true
	b.mu.Unlock()

	b.emit(playback.Event{Kind: playback.Ended})
}

func (b *Beep) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.ctrl == nil {
		b.mu.Unlock()
		return ErrNotLoaded
	}
	if !b.paused {
		b.mu.Unlock()
		return nil
	}

	if b.ended {
		b.sink.Lock()
		err := b.stream.Seek(0)
		b.sink.Unlock()
		if err != nil {
			b.mu.Unlock()
			return fmt.Errorf("failed to rewind media: %w", err)
		}
		b.ended = false
		b.queueLocked(b.gen)
	}

	b.sink.Lock()
	b.ctrl.Paused = false
	b.sink.Unlock()
	b.paused = false
	b.mu.Unlock()

	b.emit(playback.Event{Kind: playback.Started})

	return nil
}

func (b *Beep) Pause() {
	b.mu.Lock()
	if b.ctrl == nil || b.paused {
		b.mu.Unlock()
		return
	}

	b.sink.Lock()
	b.ctrl.Paused = true
	b.sink.Unlock()
	b.paused = true
	b.mu.Unlock()

	b.emit(playback.Event{Kind: playback.Paused})
}

func (b *Beep) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.paused
}

func (b *Beep) Seek(seconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream == nil {
		return
	}

	n := b.format.SampleRate.N(secondsToDuration(seconds))
	n = max(0, min(n, b.stream.Len()))

	b.sink.Lock()
	err := b.stream.Seek(n)
	b.sink.Unlock()
	if err != nil {
		b.logger.Warn("failed to seek media", "seconds", seconds, "error", err)
		return
	}

	if b.ended && n < b.stream.Len() {
		b.ended = false
		b.queueLocked(b.gen)
	}
}

// SetVolume maps a linear level onto the base-2 gain of the volume effect. Zero is silence.
func (b *Beep) SetVolume(level float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.level = max(0, min(1, level))
	if b.vol == nil {
		return
	}

	b.sink.Lock()
	applyLevel(b.vol, b.level)
	b.sink.Unlock()
}

func applyLevel(v *effects.Volume, level float64) {
	if level <= 0 {
		v.Silent = true
		return
	}
	v.Silent = false
	v.Volume = math.Log2(level)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (b *Beep) Position() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream == nil {
		return 0
	}

	b.sink.Lock()
	p := b.stream.Position()
	b.sink.Unlock()

	return b.format.SampleRate.D(p).Seconds()
}

func (b *Beep) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gen++
	b.unloadLocked()
}

func (b *Beep) unloadLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.stream == nil {
		return
	}

	b.sink.Clear()
	b.stream.Close()
	b.stream = nil
	b.ctrl = nil
	b.vol = nil
	b.paused = true
	b.ended = false
}
