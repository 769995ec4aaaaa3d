// Package inmemory is a process-local channel.Channel.
package inmemory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tribeat/server/internal/channel"
	"github.com/tribeat/server/internal/protocol"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type topic struct {
	subs    map[*subscription]struct{}
	members map[string]channel.Member
	refs    map[string]int
}

type Hub struct {
	topics map[string]*topic
	mu     sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]*topic),
	}
}

func (h *Hub) Subscribe(ctx context.Context, name string, self channel.Member) (channel.Subscription, error) {
	funcName := "channel.inmemory.Subscribe"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if self.ID == "" {
		return nil, channel.ErrMemberIDMissing
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	slog.Debug(funcName, "channel", name, "member_id", self.ID)
	t, ok := h.topics[name]
	if !ok {
		t = &topic{
			subs:    make(map[*subscription]struct{}),
			members: make(map[string]channel.Member),
			refs:    make(map[string]int),
		}
		h.topics[name] = t
	}

	sub := &subscription{
		hub:  h,
		name: name,
		self: self,
		box:  channel.NewMailbox(),
	}

	t.refs[self.ID]++
	if t.refs[self.ID] == 1 {
		t.members[self.ID] = self
		notice := channel.Membership{Kind: channel.MemberJoined, Member: self, Count: len(t.members)}
		for other := range t.subs {
			other.box.Put(channel.Delivery{Membership: &notice})
		}
	}
	t.subs[sub] = struct{}{}

	slog.Debug(funcName, "result", "OK", "members", len(t.members))
	return sub, nil
}

func (h *Hub) Publish(ctx context.Context, name string, msg protocol.Message) error {
	funcName := "channel.inmemory.Publish"
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	slog.Debug(funcName, "channel", name, "event", msg.Event)
	t, ok := h.topics[name]
	if !ok {
		return nil
	}

	for sub := range t.subs {
		m := msg
		sub.box.Put(channel.Delivery{Message: &m})
	}

	return nil
}

func (h *Hub) members(name string) []channel.Member {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.topics[name]
	if !ok {
		return nil
	}

	ids := maps.Keys(t.members)
	slices.Sort(ids)

	members := make([]channel.Member, 0, len(ids))
	for _, id := range ids {
		members = append(members, t.members[id])
	}

	return members
}

func (h *Hub) remove(sub *subscription) {
	funcName := "channel.inmemory.remove"
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[sub.name]
	if !ok {
		return
	}
	if _, ok := t.subs[sub]; !ok {
		return
	}
	delete(t.subs, sub)

	t.refs[sub.self.ID]--
	if t.refs[sub.self.ID] <= 0 {
		delete(t.refs, sub.self.ID)
		delete(t.members, sub.self.ID)
		notice := channel.Membership{Kind: channel.MemberLeft, Member: sub.self, Count: len(t.members)}
		for other := range t.subs {
			other.box.Put(channel.Delivery{Membership: &notice})
		}
	}

	if len(t.subs) == 0 {
		delete(h.topics, sub.name)
	}

	slog.Debug(funcName, "channel", sub.name, "member_id", sub.self.ID, "members", len(t.members))
}

type subscription struct {
	hub  *Hub
	name string
	self channel.Member
	box  *channel.Mailbox
	once sync.Once
}

func (s *subscription) Deliveries() <-chan channel.Delivery {
	return s.box.Out()
}

func (s *subscription) Members(ctx context.Context) ([]channel.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return s.hub.members(s.name), nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.hub.remove(s)
		s.box.Close()
	})

	return nil
}
