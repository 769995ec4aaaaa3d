// Package wsclient reaches a session channel through the server's websocket endpoint. The
// server relays channel traffic and turns membership changes into participant events.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tribeat/server/internal/channel"
	"github.com/tribeat/server/internal/protocol"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const writeWait = 10 * time.Second

// ErrorEvent is the frame the server sends when it rejects an inbound message.
const ErrorEvent protocol.Kind = "error"

type Client struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

// New returns a client for the websocket endpoint rooted at baseURL, for example
// ws://localhost:8080/api/v1/ws/session. token identifies the viewer.
func New(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
		subs:    make(map[string]*subscription),
	}
}

func (c *Client) endpoint(sessionID string) string {
	return fmt.Sprintf("%s/%s?token=%s", c.baseURL, url.PathEscape(sessionID), url.QueryEscape(c.token))
}

func (c *Client) Subscribe(ctx context.Context, name string, self channel.Member) (channel.Subscription, error) {
	sessionID, ok := protocol.SessionIDFromChannel(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", channel.ErrInvalidChannel, name)
	}

	c.mu.Lock()
	_, exists := c.subs[name]
	c.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("already subscribed to %s", name)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial session %s: %w", sessionID, err)
	}

	sub := &subscription{
		client:  c,
		name:    name,
		conn:    conn,
		box:     channel.NewMailbox(),
		done:    make(chan struct{}),
		members: map[string]channel.Member{self.ID: self},
	}

	c.mu.Lock()
	c.subs[name] = sub
	c.mu.Unlock()

	go sub.readLoop()

	return sub, nil
}

func (c *Client) Publish(ctx context.Context, name string, msg protocol.Message) error {
	c.mu.Lock()
	sub, ok := c.subs[name]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", channel.ErrNotSubscribed, name)
	}

	return sub.write(ctx, msg)
}

func (c *Client) forget(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs[sub.name] == sub {
		delete(c.subs, sub.name)
	}
}

type subscription struct {
	client *Client
	name   string
	conn   *websocket.Conn
	box    *channel.Mailbox
	done   chan struct{}
	once   sync.Once

	writeMu sync.Mutex

	membersMu sync.RWMutex
	members   map[string]channel.Member
}

func (s *subscription) write(ctx context.Context, msg protocol.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetWriteDeadline(deadline)

	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write %s: %w", msg.Event, err)
	}

	return nil
}

func (s *subscription) readLoop() {
	defer close(s.done)
	defer s.box.Close()
	defer s.client.forget(s)

	for {
		var msg protocol.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.client.logger.Debug("session socket closed", "channel", s.name, "error", err)
			}
			return
		}

		switch {
		case msg.Event == ErrorEvent:
			s.client.logger.Warn("server rejected message", "channel", s.name, "data", string(msg.Data))
		case msg.Event.IsPresence():
			if m, ok := s.membership(msg); ok {
				s.box.Put(channel.Delivery{Membership: &m})
			}
		default:
			s.box.Put(channel.Delivery{Message: &msg})
		}
	}
}

func (s *subscription) membership(msg protocol.Message) (channel.Membership, bool) {
	var ev protocol.ParticipantEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.client.logger.Info("dropping undecodable participant event", "channel", s.name, "error", err)
		return channel.Membership{}, false
	}

	member := channel.Member{ID: ev.UserID, Name: ev.UserName}

	s.membersMu.Lock()
	defer s.membersMu.Unlock()

	switch msg.Event {
	case protocol.KindParticipantJoined:
		s.members[member.ID] = member
		return channel.Membership{Kind: channel.MemberJoined, Member: member, Count: ev.Count}, true
	case protocol.KindParticipantLeft:
		delete(s.members, member.ID)
		return channel.Membership{Kind: channel.MemberLeft, Member: member, Count: ev.Count}, true
	default:
		return channel.Membership{Kind: channel.MemberCount, Count: ev.Count}, true
	}
}

func (s *subscription) Deliveries() <-chan channel.Delivery {
	return s.box.Out()
}

func (s *subscription) Members(ctx context.Context) ([]channel.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.membersMu.RLock()
	defer s.membersMu.RUnlock()

	ids := maps.Keys(s.members)
	slices.Sort(ids)

	members := make([]channel.Member, 0, len(ids))
	for _, id := range ids {
		members = append(members, s.members[id])
	}

	return members, nil
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()

		err = s.conn.Close()
		<-s.done
	})

	return err
}
