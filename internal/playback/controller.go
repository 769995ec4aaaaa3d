// Package playback owns the local playback state of one open session view. It hides the
// platform audio primitive behind transport verbs and publishes state snapshots to observers.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tribeat/server/internal/drift"
)

type Config struct {
	// RefreshInterval is how often observers see position updates while playing.
	RefreshInterval time.Duration
	InitialVolume   *int
	Now             func() time.Time
	Logger          *slog.Logger
}

type snapRequest struct {
	remoteTime      float64
	remoteIsPlaying bool
	serverTimestamp int64
}

type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc

	refreshInterval time.Duration
	now             func() time.Time
	logger          *slog.Logger

	mu        sync.Mutex
	res       Resource
	state     State
	destroyed bool
	pending   *snapRequest
	tickStop  chan struct{}
	tickGen   uint64

	obsMu     sync.Mutex
	observers map[uint64]Observer
	order     []uint64
	nextID    uint64
	queue     []delivery
	draining  bool
	obsClosed bool
}

func New(res Resource, cfg *Config) *Controller {
	if cfg == nil {
		cfg = &Config{}
	}

	c := &Controller{
		res:             res,
		refreshInterval: cfg.RefreshInterval,
		now:             cfg.Now,
		logger:          cfg.Logger,
		state:           State{Volume: DefaultVolume},
		observers:       make(map[uint64]Observer),
	}
	if c.refreshInterval <= 0 {
		c.refreshInterval = 100 * time.Millisecond
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if cfg.InitialVolume != nil {
		c.state.Volume = clampVolume(*cfg.InitialVolume)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	res.Bind(c.handle)
	res.SetVolume(float64(c.state.Volume) / MaxVolume)

	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Subscribe registers fn, delivers the current state to it right away and then every change.
// The returned func removes fn.
func (c *Controller) Subscribe(fn Observer) func() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return func() {}
	}

	c.obsMu.Lock()
	c.nextID++
	id := c.nextID
	c.observers[id] = fn
	c.order = append(c.order, id)
	c.queue = append(c.queue, delivery{state: c.state, target: id})
	c.obsMu.Unlock()
	c.mu.Unlock()

	c.drain()

	return func() { c.removeObserver(id) }
}

// Load resets playback and starts loading url. Play and Seek are no-ops until the resource
// reports metadata.
func (c *Controller) Load(url string) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}

	c.stopTickerLocked()
	c.pending = nil
	c.state.IsPlaying = false
	c.state.IsLoaded = false
	c.state.Error = ""
	c.state.CurrentTime = 0
	c.state.Duration = 0
	res := c.res
	c.pushLocked(delivery{state: c.state})
	c.mu.Unlock()

	c.drain()
	res.Load(url)
}

// Play waits for the resource to start. A refusal is recorded in State.Error.
func (c *Controller) Play(ctx context.Context) {
	c.mu.Lock()
	if c.destroyed || !c.state.IsLoaded {
		c.mu.Unlock()
		return
	}
	res := c.res
	c.mu.Unlock()

	if err := res.Play(ctx); err != nil {
		c.logger.WarnContext(ctx, "failed to start playback", "error", err)

		c.mu.Lock()
		if c.destroyed {
			c.mu.Unlock()
			return
		}
		c.state.Error = errPlayFailed
		c.state.IsPlaying = false
		c.stopTickerLocked()
		c.pushLocked(delivery{state: c.state})
		c.mu.Unlock()

		c.drain()
	}
}

func (c *Controller) Pause() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	res := c.res
	c.mu.Unlock()

	res.Pause()
}

func (c *Controller) Seek(t float64) {
	c.mu.Lock()
	if c.destroyed || !c.state.IsLoaded {
		c.mu.Unlock()
		return
	}

	t = clampTime(t, c.state.Duration)
	c.state.CurrentTime = t
	res := c.res
	c.pushLocked(delivery{state: c.state})
	c.mu.Unlock()

	res.Seek(t)
	c.drain()
}

func (c *Controller) SetVolume(v int) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}

	v = clampVolume(v)
	c.state.Volume = v
	res := c.res
	c.pushLocked(delivery{state: c.state})
	c.mu.Unlock()

	res.SetVolume(float64(v) / MaxVolume)
	c.drain()
}

// SyncWithRemote moves local playback toward the controller's reported position, leaving
// offsets inside the drift deadband alone. Play state always follows the remote.
func (c *Controller) SyncWithRemote(ctx context.Context, remoteTime float64, remoteIsPlaying bool, serverTimestamp int64) {
	c.mu.Lock()
	if c.destroyed || !c.state.IsLoaded {
		c.mu.Unlock()
		return
	}
	res := c.res
	c.mu.Unlock()

	correction := drift.Correct(drift.Input{
		LocalTime:       res.Position(),
		RemoteTime:      remoteTime,
		RemoteIsPlaying: remoteIsPlaying,
		ServerTimestamp: serverTimestamp,
		Now:             c.now(),
	})
	if correction.ShouldCorrect {
		c.logger.DebugContext(ctx, "correcting drift",
			"target", correction.TargetTime,
			"latency", correction.Latency,
		)
		c.Seek(correction.TargetTime)
	}

	c.matchPlaying(ctx, res, correction.ShouldPlay)
}

// Snap jumps straight to the remote position regardless of the deadband. When the media is
// still loading the request is kept and applied once metadata arrives.
func (c *Controller) Snap(ctx context.Context, remoteTime float64, remoteIsPlaying bool, serverTimestamp int64) {
	req := snapRequest{
		remoteTime:      remoteTime,
		remoteIsPlaying: remoteIsPlaying,
		serverTimestamp: serverTimestamp,
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	if !c.state.IsLoaded {
		c.pending = &req
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.applySnap(ctx, req)
}

func (c *Controller) applySnap(ctx context.Context, req snapRequest) {
	c.Seek(drift.Project(req.remoteTime, req.remoteIsPlaying, req.serverTimestamp, c.now()))

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	res := c.res
	c.mu.Unlock()

	c.matchPlaying(ctx, res, req.remoteIsPlaying)
}

func (c *Controller) matchPlaying(ctx context.Context, res Resource, shouldPlay bool) {
	switch {
	case shouldPlay && res.Paused():
		c.Play(ctx)
	case !shouldPlay && !res.Paused():
		c.Pause()
	}
}

// Destroy releases the resource. Every later call is a no-op and no observer is called again.
func (c *Controller) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}

	c.destroyed = true
	c.pending = nil
	c.stopTickerLocked()
	c.cancel()

	c.obsMu.Lock()
	c.obsClosed = true
	c.observers = nil
	c.order = nil
	c.queue = nil
	c.obsMu.Unlock()

	res := c.res
	c.mu.Unlock()

	res.Pause()
	res.Release()
}

func (c *Controller) handle(ev Event) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}

	var pending *snapRequest
	notify := true

	switch ev.Kind {
	case MetadataReady:
		c.state.Duration = max(0, ev.Duration)
		c.state.IsLoaded = true
		c.state.Error = ""
		c.state.CurrentTime = clampTime(c.state.CurrentTime, c.state.Duration)
		pending, c.pending = c.pending, nil
	case Started:
		// a start proves an earlier refusal was transient; load failures still block
		if c.state.Error == errPlayFailed {
			c.state.Error = ""
		}
		if !c.state.IsLoaded || c.state.Error != "" {
			notify = false
			break
		}
		c.state.IsPlaying = true
		c.startTickerLocked()
	case Paused:
		c.state.IsPlaying = false
		c.stopTickerLocked()
	case Ended:
		c.state.IsPlaying = false
		c.state.CurrentTime = c.state.Duration
		c.stopTickerLocked()
	case Failed:
		c.logger.Warn("audio resource failed", "error", ev.Err)
		c.state.Error = errLoadFailed
		c.state.IsLoaded = false
		c.state.IsPlaying = false
		c.pending = nil
		c.stopTickerLocked()
	case PositionTick:
		c.state.CurrentTime = clampTime(ev.Position, c.state.Duration)
		notify = false
	default:
		notify = false
	}

	if notify {
		c.pushLocked(delivery{state: c.state})
	}
	c.mu.Unlock()

	c.drain()

	if pending != nil {
		c.applySnap(c.ctx, *pending)
	}
}

func (c *Controller) startTickerLocked() {
	if c.tickStop != nil {
		return
	}

	stop := make(chan struct{})
	c.tickStop = stop
	c.tickGen++
	go c.refreshLoop(stop, c.tickGen)
}

// stopTickerLocked also invalidates the current generation so a tick that already fired is
// discarded.
func (c *Controller) stopTickerLocked() {
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
	c.tickGen++
}

func (c *Controller) refreshLoop(stop <-chan struct{}, gen uint64) {
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.refresh(gen)
		}
	}
}

func (c *Controller) refresh(gen uint64) {
	c.mu.Lock()
	if c.destroyed || gen != c.tickGen {
		c.mu.Unlock()
		return
	}
	res := c.res
	c.mu.Unlock()

	pos := res.Position()

	c.mu.Lock()
	if c.destroyed || gen != c.tickGen {
		c.mu.Unlock()
		return
	}
	c.state.CurrentTime = clampTime(pos, c.state.Duration)
	c.pushLocked(delivery{state: c.state})
	c.mu.Unlock()

	c.drain()
}
