// Package redis carries session channels over redis pub/sub so several server instances share
// one session. Presence lives next to the channel in a set of member ids.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tribeat/server/internal/channel"
	"github.com/tribeat/server/internal/protocol"
)

// Every subscription holds a lease in a sorted set scored by its expiry in unix millis. A lease
// is "<origin>:<member id>". A member stays present while it holds at least one live lease, so
// an instance that dies without leaving drops out once its leases run out. Expired leases are
// reaped by whichever subscription touches the channel next; the reaped members are returned as
// a flat list of id, name pairs for the caller to announce.
const reapLua = `
local function leaseMember(lease)
	local sep = string.find(lease, ':', 1, true)
	return string.sub(lease, sep + 1)
end

local function holds(id)
	for _, lease in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
		if leaseMember(lease) == id then
			return true
		end
	end
	return false
end

local function reap(now)
	local gone = {}
	local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now)
	if #expired == 0 then
		return gone
	end
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now)
	for _, lease in ipairs(expired) do
		local id = leaseMember(lease)
		if not holds(id) and redis.call('SISMEMBER', KEYS[2], id) == 1 then
			local name = redis.call('HGET', KEYS[3], id) or ''
			redis.call('SREM', KEYS[2], id)
			redis.call('HDEL', KEYS[3], id)
			table.insert(gone, id)
			table.insert(gone, name)
		end
	end
	return gone
end
`

// joinScript takes or renews a lease. It reports 1 when the member was not present before.
var joinScript = redis.NewScript(reapLua + `
local gone = reap(tonumber(ARGV[4]))
redis.call('ZADD', KEYS[1], ARGV[5], ARGV[1])
local joined = redis.call('SADD', KEYS[2], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[2], ARGV[3])
for i = 1, 3 do
	redis.call('EXPIRE', KEYS[i], ARGV[6])
end
return {joined, redis.call('SCARD', KEYS[2]), gone}
`)

// leaveScript drops a lease. It reports 1 when that was the member's last one.
var leaveScript = redis.NewScript(reapLua + `
local gone = reap(tonumber(ARGV[3]))
redis.call('ZREM', KEYS[1], ARGV[1])
local left = 0
if not holds(ARGV[2]) then
	left = redis.call('SREM', KEYS[2], ARGV[2])
	redis.call('HDEL', KEYS[3], ARGV[2])
end
return {left, redis.call('SCARD', KEYS[2]), gone}
`)

type presenceNotice struct {
	Kind   string         `json:"kind"`
	Member channel.Member `json:"member"`
	Count  int            `json:"count"`
	Origin string         `json:"origin"`
}

const defaultLeaseTTL = 30 * time.Second

type Channel struct {
	rc             *redis.Client
	expireDuration time.Duration
	// leaseTTL is how long a subscription stays present without renewing. Renewal runs every
	// third of it.
	leaseTTL time.Duration
	now      func() time.Time
}

func NewChannel(rc *redis.Client, expireDuration time.Duration) *Channel {
	if expireDuration <= 0 {
		expireDuration = 24 * time.Hour
	}

	return &Channel{
		rc:             rc,
		expireDuration: expireDuration,
		leaseTTL:       defaultLeaseTTL,
		now:            time.Now,
	}
}

func (c *Channel) getPresenceKey(name string) string {
	return name + ":presence"
}

func (c *Channel) getMembersKey(name string) string {
	return name + ":members"
}

func (c *Channel) getNamesKey(name string) string {
	return name + ":names"
}

func (c *Channel) getLeasesKey(name string) string {
	return name + ":leases"
}

func (c *Channel) presenceKeys(name string) []string {
	return []string{c.getLeasesKey(name), c.getMembersKey(name), c.getNamesKey(name)}
}

func (c *Channel) Subscribe(ctx context.Context, name string, self channel.Member) (channel.Subscription, error) {
	if self.ID == "" {
		return nil, channel.ErrMemberIDMissing
	}

	ps := c.rc.Subscribe(ctx, name, c.getPresenceKey(name))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", name, err)
	}

	sub := &subscription{
		ch:     c,
		name:   name,
		self:   self,
		origin: uuid.NewString(),
		ps:     ps,
		box:    channel.NewMailbox(),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		hbDone: make(chan struct{}),
	}
	go sub.run()

	if err := c.join(ctx, sub); err != nil {
		close(sub.hbDone)
		sub.closeTransport()
		return nil, err
	}
	go sub.heartbeat()

	return sub, nil
}

func (c *Channel) lease(sub *subscription) string {
	return sub.origin + ":" + sub.self.ID
}

// join takes or renews the lease of sub and announces what changed.
func (c *Channel) join(ctx context.Context, sub *subscription) error {
	now := c.now()
	res, err := joinScript.Run(ctx, c.rc, c.presenceKeys(sub.name),
		c.lease(sub), sub.self.ID, sub.self.Name,
		now.UnixMilli(), now.Add(c.leaseTTL).UnixMilli(), int(c.expireDuration.Seconds()),
	).Slice()
	if err != nil {
		return fmt.Errorf("failed to join %s: %w", sub.name, err)
	}

	changed, count, gone, err := parsePresenceResult(res)
	if err != nil {
		return fmt.Errorf("failed to join %s: %w", sub.name, err)
	}

	c.announceGone(ctx, sub.name, gone, count)
	if changed {
		if err := c.announce(ctx, sub.name, presenceNotice{
			Kind:   "joined",
			Member: sub.self,
			Count:  count,
			Origin: sub.origin,
		}); err != nil {
			slog.WarnContext(ctx, "failed to announce join", "channel", sub.name, "error", err)
		}
	}

	return nil
}

// announceGone reports members whose leases expired. The notices carry no origin so every
// subscription, the reaper's included, delivers them.
func (c *Channel) announceGone(ctx context.Context, name string, gone []channel.Member, count int) {
	for _, m := range gone {
		slog.InfoContext(ctx, "presence lease expired", "channel", name, "member_id", m.ID)
		if err := c.announce(ctx, name, presenceNotice{Kind: "left", Member: m, Count: count}); err != nil {
			slog.WarnContext(ctx, "failed to announce expired member", "channel", name, "error", err)
		}
	}
}

// parsePresenceResult reads the {changed, count, {id, name, ...}} reply of the presence scripts.
func parsePresenceResult(res []any) (bool, int, []channel.Member, error) {
	if len(res) != 3 {
		return false, 0, nil, fmt.Errorf("unexpected presence reply %v", res)
	}

	changed, ok1 := res[0].(int64)
	count, ok2 := res[1].(int64)
	pairs, ok3 := res[2].([]any)
	if !ok1 || !ok2 || !ok3 || len(pairs)%2 != 0 {
		return false, 0, nil, fmt.Errorf("unexpected presence reply %v", res)
	}

	gone := make([]channel.Member, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		id, _ := pairs[i].(string)
		name, _ := pairs[i+1].(string)
		gone = append(gone, channel.Member{ID: id, Name: name})
	}

	return changed == 1, int(count), gone, nil
}

func (c *Channel) Publish(ctx context.Context, name string, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if err := c.rc.Publish(ctx, name, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Event, err)
	}

	return nil
}

func (c *Channel) announce(ctx context.Context, name string, notice presenceNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return err
	}

	return c.rc.Publish(ctx, c.getPresenceKey(name), data).Err()
}

func (c *Channel) members(ctx context.Context, name string) ([]channel.Member, error) {
	ids, err := c.rc.SMembers(ctx, c.getMembersKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	if len(ids) == 0 {
		return []channel.Member{}, nil
	}
	sort.Strings(ids)

	names, err := c.rc.HMGet(ctx, c.getNamesKey(name), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get member names: %w", err)
	}

	members := make([]channel.Member, 0, len(ids))
	for i, id := range ids {
		m := channel.Member{ID: id}
		if n, ok := names[i].(string); ok {
			m.Name = n
		}
		members = append(members, m)
	}

	return members, nil
}

type subscription struct {
	ch     *Channel
	name   string
	self   channel.Member
	origin string
	ps     *redis.PubSub
	box    *channel.Mailbox
	done   chan struct{}
	stop   chan struct{}
	hbDone chan struct{}
	once   sync.Once
}

// heartbeat renews the lease until the subscription is closed.
func (s *subscription) heartbeat() {
	defer close(s.hbDone)

	interval := s.ch.leaseTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := s.ch.join(ctx, s); err != nil {
				slog.Warn("failed to renew presence lease", "channel", s.name, "error", err)
			}
			cancel()
		}
	}
}

func (s *subscription) run() {
	defer close(s.done)
	defer s.box.Close()

	presence := s.ch.getPresenceKey(s.name)
	for m := range s.ps.Channel() {
		switch m.Channel {
		case s.name:
			var msg protocol.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				slog.Info("dropping undecodable message", "channel", s.name, "error", err)
				continue
			}
			s.box.Put(channel.Delivery{Message: &msg})
		case presence:
			var notice presenceNotice
			if err := json.Unmarshal([]byte(m.Payload), &notice); err != nil {
				slog.Info("dropping undecodable presence notice", "channel", s.name, "error", err)
				continue
			}
			if notice.Origin == s.origin {
				continue
			}

			kind := channel.MemberJoined
			if notice.Kind == "left" {
				kind = channel.MemberLeft
			}
			s.box.Put(channel.Delivery{Membership: &channel.Membership{
				Kind:   kind,
				Member: notice.Member,
				Count:  notice.Count,
			}})
		}
	}
}

func (s *subscription) Deliveries() <-chan channel.Delivery {
	return s.box.Out()
}

func (s *subscription) Members(ctx context.Context) ([]channel.Member, error) {
	return s.ch.members(ctx, s.name)
}

func (s *subscription) closeTransport() {
	close(s.stop)
	<-s.hbDone
	s.ps.Close()
	s.box.Close()
	<-s.done
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.closeTransport()

		res, leaveErr := leaveScript.Run(ctx, s.ch.rc, s.ch.presenceKeys(s.name),
			s.ch.lease(s), s.self.ID, s.ch.now().UnixMilli(),
		).Slice()
		if leaveErr != nil {
			err = fmt.Errorf("failed to leave %s: %w", s.name, leaveErr)
			return
		}

		left, count, gone, parseErr := parsePresenceResult(res)
		if parseErr != nil {
			err = fmt.Errorf("failed to leave %s: %w", s.name, parseErr)
			return
		}

		s.ch.announceGone(ctx, s.name, gone, count)
		if left {
			err = s.ch.announce(ctx, s.name, presenceNotice{
				Kind:   "left",
				Member: s.self,
				Count:  count,
				Origin: s.origin,
			})
		}
	})

	return err
}
