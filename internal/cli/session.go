package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/faiface/beep"
	"github.com/spf13/viper"
	"github.com/tribeat/server/internal/channel"
	"github.com/tribeat/server/internal/channel/wsclient"
	"github.com/tribeat/server/internal/coordinator"
	"github.com/tribeat/server/internal/identity"
	"github.com/tribeat/server/internal/media"
	"github.com/tribeat/server/internal/playback"
)

const sampleRate = beep.SampleRate(44100)

// wsBase turns the server base URL into the websocket session endpoint.
func wsBase(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path += "/api/v1/ws/session"

	return u.String(), nil
}

// joinSession builds the local player on the speaker and joins sessionID in role.
func joinSession(ctx context.Context, sessionID string, role coordinator.Role, out io.Writer) (*coordinator.Coordinator, error) {
	token, err := requireToken()
	if err != nil {
		return nil, err
	}

	viewer, err := identity.PeekToken(token)
	if err != nil {
		return nil, err
	}

	base, err := wsBase(viper.GetString("server"))
	if err != nil {
		return nil, err
	}

	sink, err := media.NewSpeakerSink(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to open speaker: %w", err)
	}

	player := playback.New(media.NewBeep(sink, media.OpenURL, logger), &playback.Config{Logger: logger})
	player.Subscribe(newStatePrinter(out).print)

	coord := coordinator.New(&coordinator.Config{
		Channel:        wsclient.New(base, token, logger),
		Player:         player,
		Self:           channel.Member{ID: viewer.UserID, Name: viewer.UserName},
		ResyncInterval: viper.GetDuration("resync"),
		OnPresence: func(m channel.Membership) {
			if m.Kind == channel.MemberCount {
				return
			}
			fmt.Fprintf(out, "%s %s (%d listening)\n", m.Member.Name, m.Kind, m.Count)
		},
		Logger: logger,
	})

	if err := coord.Join(ctx, sessionID, role); err != nil {
		coord.Leave()
		return nil, fmt.Errorf("failed to join session: %w", err)
	}

	fmt.Fprintf(out, "joined %s as %s\n", sessionID, role)
	return coord, nil
}

// signalContext is cancelled on interrupt or terminate.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// waitEnded blocks until ctx is done or the session has ended.
func waitEnded(ctx context.Context, coord *coordinator.Coordinator) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if coord.Phase() == coordinator.Ended {
				return
			}
		}
	}
}

// statePrinter writes a line whenever something other than the position changes.
type statePrinter struct {
	out  io.Writer
	mu   sync.Mutex
	last *playback.State
}

func newStatePrinter(out io.Writer) *statePrinter {
	return &statePrinter{out: out}
}

func (p *statePrinter) print(s playback.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last != nil {
		prev := *p.last
		prev.CurrentTime = s.CurrentTime
		if prev == s {
			return
		}
	}
	p.last = &s

	fmt.Fprintln(p.out, formatState(s))
}

func formatState(s playback.State) string {
	if s.Error != "" {
		return "error: " + s.Error
	}
	if !s.IsLoaded {
		return "loading..."
	}

	status := "paused"
	if s.IsPlaying {
		status = "playing"
	}

	return fmt.Sprintf("%s %s / %s volume %d",
		status,
		formatSeconds(s.CurrentTime),
		formatSeconds(s.Duration),
		s.Volume,
	)
}

func formatSeconds(s float64) string {
	d := time.Duration(s * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
