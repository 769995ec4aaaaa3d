// Package coordinator binds a playback controller to a session channel. The controller role
// publishes its transport actions; the follower role applies what it receives.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tribeat/server/internal/channel"
	"github.com/tribeat/server/internal/playback"
	"github.com/tribeat/server/internal/protocol"
)

var (
	ErrAlreadyJoined = errors.New("already joined a session")
	ErrLeft          = errors.New("coordinator has left its session")
	ErrNotPlaying    = errors.New("local playback did not start")
)

type Role int

const (
	RoleFollower Role = iota
	RoleController
)

func (r Role) String() string {
	if r == RoleController {
		return "controller"
	}

	return "follower"
}

type Phase int

const (
	Unsubscribed Phase = iota
	Subscribing
	Active
	Ended
)

func (p Phase) String() string {
	switch p {
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Ended:
		return "ended"
	}

	return "unsubscribed"
}

type Config struct {
	Channel channel.Channel
	Player  *playback.Controller
	Self    channel.Member
	// ResyncInterval is how often a controller republishes the full state. Zero disables it.
	ResyncInterval time.Duration
	// OnPresence, when set, sees every membership change. It runs on the event loop and must
	// not call Leave or End.
	OnPresence func(channel.Membership)
	Now        func() time.Time
	Logger     *slog.Logger
}

type Coordinator struct {
	ch             channel.Channel
	player         *playback.Controller
	self           channel.Member
	resyncInterval time.Duration
	onPresence     func(channel.Membership)
	now            func() time.Time
	logger         *slog.Logger

	mu            sync.Mutex
	phase         Phase
	left          bool
	role          Role
	sessionID     string
	channelName   string
	mediaURL      *string
	remotePlaying bool
	participants  int
	sub           channel.Subscription
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

func New(cfg *Config) *Coordinator {
	c := &Coordinator{
		ch:             cfg.Channel,
		player:         cfg.Player,
		self:           cfg.Self,
		resyncInterval: cfg.ResyncInterval,
		onPresence:     cfg.OnPresence,
		now:            cfg.Now,
		logger:         cfg.Logger,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c
}

func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.phase
}

func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.role
}

func (c *Coordinator) Participants() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.participants
}

func (c *Coordinator) Player() *playback.Controller {
	return c.player
}

// Join subscribes to the session's channel and starts processing its events.
func (c *Coordinator) Join(ctx context.Context, sessionID string, role Role) error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return ErrLeft
	}
	if c.phase != Unsubscribed {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.phase = Subscribing
	c.role = role
	c.sessionID = sessionID
	c.channelName = protocol.ChannelName(sessionID)
	name := c.channelName
	c.mu.Unlock()

	logger := c.logger.With("session_id", sessionID, "role", role.String())
	logger.DebugContext(ctx, "joining session")

	sub, err := c.ch.Subscribe(ctx, name, c.self)
	if err != nil {
		c.mu.Lock()
		if c.phase == Subscribing {
			c.phase = Unsubscribed
		}
		c.mu.Unlock()
		return fmt.Errorf("failed to join session %s: %w", sessionID, err)
	}

	participants := 1
	if members, err := sub.Members(ctx); err == nil {
		participants = len(members)
	} else {
		logger.WarnContext(ctx, "failed to list members", "error", err)
	}

	c.mu.Lock()
	if c.phase != Subscribing {
		c.mu.Unlock()
		sub.Close()
		return ErrLeft
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.phase = Active
	c.sub = sub
	c.cancel = cancel
	c.participants = participants

	c.wg.Add(1)
	go c.loop(loopCtx, sub, logger)

	if role == RoleController && c.resyncInterval > 0 {
		c.wg.Add(1)
		go c.resyncLoop(loopCtx)
	}
	c.mu.Unlock()

	logger.InfoContext(ctx, "joined session", "participants", participants)

	if role == RoleController {
		return c.announceState(ctx)
	}

	return nil
}

// Leave drops the subscription and destroys the player from any phase. It must not be called
// from OnPresence.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return
	}
	c.left = true
	c.phase = Unsubscribed
	sub, cancel := c.sub, c.cancel
	c.sub, c.cancel = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			c.logger.Warn("failed to close subscription", "error", err)
		}
	}
	c.wg.Wait()

	c.player.Destroy()
}

// controlling reports whether local transport verbs should run and be published.
func (c *Coordinator) controlling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.phase == Active && c.role == RoleController
}

// Load switches the session to url and announces the new state.
func (c *Coordinator) Load(ctx context.Context, url string) error {
	if !c.controlling() {
		return nil
	}

	c.mu.Lock()
	c.mediaURL = &url
	c.mu.Unlock()

	c.player.Load(url)

	return c.publishState(ctx)
}

func (c *Coordinator) Play(ctx context.Context) error {
	if !c.controlling() {
		return nil
	}

	c.player.Play(ctx)

	// followers must not go live while the controller itself is silent
	if s := c.player.State(); !s.IsPlaying {
		if s.Error != "" {
			return fmt.Errorf("%w: %s", ErrNotPlaying, s.Error)
		}
		return ErrNotPlaying
	}

	return c.publishTimed(ctx, protocol.KindPlay)
}

func (c *Coordinator) Pause(ctx context.Context) error {
	if !c.controlling() {
		return nil
	}

	c.player.Pause()

	return c.publishTimed(ctx, protocol.KindPause)
}

func (c *Coordinator) Seek(ctx context.Context, t float64) error {
	if !c.controlling() {
		return nil
	}

	c.player.Seek(t)

	return c.publishTimed(ctx, protocol.KindSeek)
}

func (c *Coordinator) SetVolume(ctx context.Context, v int) error {
	if !c.controlling() {
		return nil
	}

	c.player.SetVolume(v)

	return c.publish(ctx, protocol.KindVolume, protocol.VolumeEvent{
		SessionID: c.getSessionID(),
		Volume:    c.player.State().Volume,
	})
}

// End announces the end of the session, pauses and unsubscribes.
func (c *Coordinator) End(ctx context.Context) error {
	if !c.controlling() {
		return nil
	}

	err := c.publish(ctx, protocol.KindEnd, protocol.EndEvent{
		SessionID: c.getSessionID(),
		Timestamp: c.now().UnixMilli(),
	})

	c.end()
	c.wg.Wait()

	return err
}

func (c *Coordinator) getSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessionID
}

// end moves an active coordinator to Ended. It is safe to call from the event loop.
func (c *Coordinator) end() {
	c.mu.Lock()
	if c.phase != Active {
		c.mu.Unlock()
		return
	}
	c.phase = Ended
	sub, cancel := c.sub, c.cancel
	c.sub, c.cancel = nil, nil
	c.mu.Unlock()

	c.player.Pause()
	cancel()
	if err := sub.Close(); err != nil {
		c.logger.Warn("failed to close subscription", "error", err)
	}
}

// SessionState builds the full snapshot a controller publishes.
func (c *Coordinator) SessionState() protocol.SessionState {
	s := c.player.State()

	c.mu.Lock()
	defer c.mu.Unlock()

	status := protocol.StatusPaused
	switch {
	case c.phase == Ended:
		status = protocol.StatusEnded
	case s.IsPlaying:
		status = protocol.StatusLive
	}

	return protocol.SessionState{
		SessionID:   c.sessionID,
		Status:      status,
		IsPlaying:   s.IsPlaying,
		CurrentTime: s.CurrentTime,
		Volume:      s.Volume,
		MediaURL:    c.mediaURL,
		CoachID:     c.self.ID,
		Timestamp:   c.now().UnixMilli(),
	}
}

func (c *Coordinator) publishState(ctx context.Context) error {
	return c.publish(ctx, protocol.KindState, c.SessionState())
}

// announceState publishes the state only once media is loaded. An empty controller would
// otherwise overwrite the stored session it is about to resume.
func (c *Coordinator) announceState(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.mediaURL != nil
	c.mu.Unlock()

	if !loaded {
		return nil
	}

	return c.publishState(ctx)
}

// publishTimed samples the player position at publish time.
func (c *Coordinator) publishTimed(ctx context.Context, kind protocol.Kind) error {
	s := c.player.State()
	sessionID := c.getSessionID()
	ts := c.now().UnixMilli()

	var payload any
	switch kind {
	case protocol.KindPlay:
		payload = protocol.PlayEvent{SessionID: sessionID, CurrentTime: s.CurrentTime, Timestamp: ts}
	case protocol.KindPause:
		payload = protocol.PauseEvent{SessionID: sessionID, CurrentTime: s.CurrentTime, Timestamp: ts}
	default:
		payload = protocol.SeekEvent{SessionID: sessionID, CurrentTime: s.CurrentTime, Timestamp: ts}
	}

	return c.publish(ctx, kind, payload)
}

func (c *Coordinator) publish(ctx context.Context, kind protocol.Kind, payload any) error {
	c.mu.Lock()
	name := c.channelName
	c.mu.Unlock()

	msg, err := protocol.NewMessage(kind, payload)
	if err != nil {
		return err
	}

	if err := c.ch.Publish(ctx, name, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}

	return nil
}

func (c *Coordinator) resyncLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.controlling() {
				return
			}
			if err := c.announceState(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("failed to publish periodic state", "error", err)
			}
		}
	}
}
