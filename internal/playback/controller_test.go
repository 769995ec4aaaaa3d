package playback_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribeat/server/internal/playback"
	"github.com/tribeat/server/internal/playback/playbacktest"
)

var now = time.UnixMilli(1_700_000_000_000)

type recorder struct {
	mu     sync.Mutex
	states []playback.State
}

func (r *recorder) observe(s playback.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states = append(r.states, s)
}

func (r *recorder) all() []playback.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]playback.State(nil), r.states...)
}

func (r *recorder) last() playback.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.states[len(r.states)-1]
}

func newController(res *playbacktest.Resource) *playback.Controller {
	return playback.New(res, &playback.Config{
		RefreshInterval: time.Hour,
		Now:             func() time.Time { return now },
	})
}

func TestInitialState(t *testing.T) {
	res := playbacktest.NewResource(120)
	c := newController(res)
	defer c.Destroy()

	rec := &recorder{}
	c.Subscribe(rec.observe)

	require.Len(t, rec.all(), 1, "subscribe must replay current state")
	s := rec.last()
	assert.Equal(t, playback.DefaultVolume, s.Volume)
	assert.False(t, s.IsPlaying)
	assert.False(t, s.IsLoaded)
	assert.Zero(t, s.CurrentTime)
	assert.Zero(t, s.Duration)
	assert.Empty(t, s.Error)
	assert.InDelta(t, 0.8, res.Volume(), 1e-9)
}

func TestSetVolumeClamps(t *testing.T) {
	res := playbacktest.NewResource(120)
	c := newController(res)
	defer c.Destroy()

	c.SetVolume(150)
	assert.Equal(t, 100, c.State().Volume)
	assert.InDelta(t, 1.0, res.Volume(), 1e-9)

	c.SetVolume(-5)
	assert.Equal(t, 0, c.State().Volume)
	assert.InDelta(t, 0.0, res.Volume(), 1e-9)

	c.SetVolume(42)
	assert.Equal(t, 42, c.State().Volume)
}

func TestOperationsBeforeLoadAreNoops(t *testing.T) {
	res := playbacktest.NewResource(120)
	c := newController(res)
	defer c.Destroy()

	c.Seek(30)
	c.Play(context.Background())
	c.SyncWithRemote(context.Background(), 30, true, now.UnixMilli())

	s := c.State()
	assert.Zero(t, s.CurrentTime)
	assert.False(t, s.IsPlaying)
	assert.Zero(t, res.Plays())
	assert.Empty(t, res.Seeks())
}

func TestLoadAndSeekClamps(t *testing.T) {
	res := playbacktest.NewResource(120)
	c := newController(res)
	defer c.Destroy()

	c.Load("https://cdn.example.com/track.wav")
	s := c.State()
	assert.True(t, s.IsLoaded)
	assert.Equal(t, 120.0, s.Duration)
	assert.Equal(t, "https://cdn.example.com/track.wav", res.URL())

	c.Seek(500)
	assert.Equal(t, 120.0, c.State().CurrentTime)

	c.Seek(-3)
	assert.Equal(t, 0.0, c.State().CurrentTime)

	c.Seek(12.5)
	assert.Equal(t, 12.5, c.State().CurrentTime)
	assert.Equal(t, []float64{120, 0, 12.5}, res.Seeks())
}

func TestLoadResetsState(t *testing.T) {
	res := playbacktest.NewResource(120)
	c := newController(res)
	defer c.Destroy()

	c.Load("a.wav")
	c.Seek(60)
	c.Play(context.Background())
	require.True(t, c.State().IsPlaying)

	res.AutoLoad = false
	c.Load("b.wav")

	s := c.State()
	assert.False(t, s.IsLoaded)
	assert.False(t, s.IsPlaying)
	assert.Zero(t, s.CurrentTime)
	assert.Zero(t, s.Duration)
}

func TestPlayFailureIsRecorded(t *testing.T) {
	res := playbacktest.NewResource(120)
	res.PlayErr = errors.New("autoplay blocked")
	c := newController(res)
	defer c.Destroy()

	c.Load("track.wav")
	c.Play(context.Background())

	s := c.State()
	assert.False(t, s.IsPlaying)
	assert.Equal(t, "playback could not be started", s.Error)
	assert.Equal(t, 1, res.Plays())
}

func TestPlayRetryAfterFailure(t *testing.T) {
	res := playbacktest.NewResource(120)
	res.PlayErr = errors.New("autoplay blocked")
	c := newController(res)
	defer c.Destroy()

	c.Load("track.wav")
	c.Play(context.Background())
	require.Equal(t, "playback could not be started", c.State().Error)

	res.PlayErr = nil
	c.Play(context.Background())

	s := c.State()
	assert.True(t, s.IsPlaying)
	assert.Empty(t, s.Error)
	assert.False(t, res.Paused())
	assert.Equal(t, 2, res.Plays())
}

func TestLoadFailure(t *testing.T) {
	res := playbacktest.NewResource(120)
	res.AutoLoad = false
	c := newController(res)
	defer c.Destroy()

	c.Load("missing.wav")
	res.Emit(playback.Event{Kind: playback.Failed, Err: errors.New("404")})

	s := c.State()
	assert.Equal(t, "audio could not be loaded", s.Error)
	assert.False(t, s.IsLoaded)
	assert.False(t, s.IsPlaying)

	res.Emit(playback.Event{Kind: playback.Started})
	assert.False(t, c.State().IsPlaying, "cannot be playing with an error")
}

func TestEndedMovesToDuration(t *testing.T) {
	res := playbacktest.NewResource(90)
	c := newController(res)
	defer c.Destroy()

	c.Load("track.wav")
	c.Play(context.Background())
	require.True(t, c.State().IsPlaying)

	res.Finish()

	s := c.State()
	assert.False(t, s.IsPlaying)
	assert.Equal(t, 90.0, s.CurrentTime)
}

func TestPositionTickIsClamped(t *testing.T) {
	res := playbacktest.NewResource(90)
	c := newController(res)
	defer c.Destroy()

	c.Load("track.wav")
	res.Emit(playback.Event{Kind: playback.PositionTick, Position: 200})
	assert.Equal(t, 90.0, c.State().CurrentTime)

	res.Emit(playback.Event{Kind: playback.PositionTick, Position: -1})
	assert.Equal(t, 0.0, c.State().CurrentTime)
}

func TestRefreshWhilePlaying(t *testing.T) {
	res := playbacktest.NewResource(120)
	c := newController(res)
	defer c.Destroy()

	c.Load("track.wav")
	c.Play(context.Background())
	gen := c.TickGeneration()

	res.SetPosition(33)
	c.Refresh(gen)
	assert.Equal(t, 33.0, c.State().CurrentTime)

	c.Pause()
	res.SetPosition(40)
	c.Refresh(gen)
	assert.Equal(t, 33.0, c.State().CurrentTime, "stale tick must be ignored")
}

func TestSyncWithRemote(t *testing.T) {
	res := playbacktest.NewResource(300)
	c := newController(res)
	defer c.Destroy()
	ctx := context.Background()

	c.Load("track.wav")
	res.SetPosition(10)

	c.SyncWithRemote(ctx, 10.3, false, now.UnixMilli())
	assert.Empty(t, res.Seeks(), "offset within deadband")

	c.SyncWithRemote(ctx, 20, true, now.Add(-1500*time.Millisecond).UnixMilli())
	require.Len(t, res.Seeks(), 1)
	assert.InDelta(t, 21.5, res.Seeks()[0], 1e-9)
	assert.True(t, c.State().IsPlaying)

	res.SetPosition(21.5)
	c.SyncWithRemote(ctx, 21.5, false, now.UnixMilli())
	assert.False(t, c.State().IsPlaying)
	assert.Len(t, res.Seeks(), 1)
}

func TestPauseThenPlayEndsPlaying(t *testing.T) {
	res := playbacktest.NewResource(300)
	c := newController(res)
	defer c.Destroy()
	ctx := context.Background()

	c.Load("track.wav")
	c.SyncWithRemote(ctx, 0, true, now.UnixMilli())
	c.SyncWithRemote(ctx, 0, false, now.UnixMilli())
	c.SyncWithRemote(ctx, 0, true, now.UnixMilli())

	assert.True(t, c.State().IsPlaying)
}

func TestSnapIgnoresDeadband(t *testing.T) {
	res := playbacktest.NewResource(300)
	c := newController(res)
	defer c.Destroy()

	c.Load("track.wav")
	res.SetPosition(10)
	c.Snap(context.Background(), 10.2, false, now.UnixMilli())

	assert.Equal(t, []float64{10.2}, res.Seeks())
	assert.Equal(t, 10.2, c.State().CurrentTime)
}

func TestSnapBeforeLoadIsApplied(t *testing.T) {
	res := playbacktest.NewResource(300)
	res.AutoLoad = false
	c := newController(res)
	defer c.Destroy()

	c.Load("track.wav")
	c.Snap(context.Background(), 40, true, now.Add(-2*time.Second).UnixMilli())
	assert.Empty(t, res.Seeks())

	res.Emit(playback.Event{Kind: playback.MetadataReady, Duration: 300})

	s := c.State()
	assert.True(t, s.IsLoaded)
	assert.True(t, s.IsPlaying)
	assert.InDelta(t, 42.0, s.CurrentTime, 1e-9)
}

func TestObserversInOrderAndReentrant(t *testing.T) {
	res := playbacktest.NewResource(120)
	c := newController(res)
	defer c.Destroy()

	var (
		mu      sync.Mutex
		volumes []int
		nested  bool
	)
	c.Subscribe(func(s playback.State) {
		mu.Lock()
		volumes = append(volumes, s.Volume)
		first := !nested
		nested = true
		mu.Unlock()

		if first {
			c.SetVolume(50)
		}
	})
	second := &recorder{}
	c.Subscribe(second.observe)

	c.SetVolume(10)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{80, 50, 10}, volumes)

	got := second.all()
	require.Len(t, got, 2)
	assert.Equal(t, 50, got[0].Volume)
	assert.Equal(t, 10, got[1].Volume)
}

func TestUnsubscribe(t *testing.T) {
	res := playbacktest.NewResource(120)
	c := newController(res)
	defer c.Destroy()

	rec := &recorder{}
	unsubscribe := c.Subscribe(rec.observe)
	unsubscribe()

	c.SetVolume(10)
	assert.Len(t, rec.all(), 1)
}

func TestDestroyIsTerminal(t *testing.T) {
	res := playbacktest.NewResource(120)
	c := newController(res)

	rec := &recorder{}
	c.Subscribe(rec.observe)

	c.Load("track.wav")
	c.Play(context.Background())
	gen := c.TickGeneration()
	res.SetPosition(15)
	c.Refresh(gen)
	delivered := len(rec.all())

	c.Destroy()
	assert.True(t, res.Released())
	assert.True(t, res.Paused())

	before := c.State()
	c.SetVolume(5)
	c.Seek(90)
	c.Load("other.wav")
	c.Play(context.Background())
	res.SetPosition(70)
	c.Refresh(gen)
	c.Refresh(c.TickGeneration())
	res.Emit(playback.Event{Kind: playback.MetadataReady, Duration: 10})

	assert.Equal(t, before, c.State())
	assert.Len(t, rec.all(), delivered, "no callback after destroy")

	late := &recorder{}
	c.Subscribe(late.observe)
	assert.Empty(t, late.all())

	c.Destroy()
}
