// Package channel is the publish/subscribe contract a live session travels over. A
// subscription delivers protocol messages and membership changes in arrival order.
package channel

import (
	"context"
	"errors"

	"github.com/tribeat/server/internal/protocol"
)

var (
	ErrClosed          = errors.New("subscription closed")
	ErrNotSubscribed   = errors.New("not subscribed to channel")
	ErrInvalidChannel  = errors.New("invalid channel name")
	ErrMemberIDMissing = errors.New("member id is required")
)

type Member struct {
	ID   string `json:"userId"`
	Name string `json:"userName"`
}

type MembershipKind int

const (
	MemberJoined MembershipKind = iota + 1
	MemberLeft
	// MemberCount carries only a new Count.
	MemberCount
)

func (k MembershipKind) String() string {
	switch k {
	case MemberJoined:
		return "joined"
	case MemberLeft:
		return "left"
	case MemberCount:
		return "count"
	}

	return "unknown"
}

type Membership struct {
	Kind   MembershipKind
	Member Member
	Count  int
}

// Delivery holds exactly one of Message or Membership.
type Delivery struct {
	Message    *protocol.Message
	Membership *Membership
}

type Subscription interface {
	// Deliveries is closed once the subscription is closed or the transport gives up.
	Deliveries() <-chan Delivery
	// Members lists who is currently subscribed, including the subscriber itself.
	Members(ctx context.Context) ([]Member, error)
	Close() error
}

type Channel interface {
	Subscribe(ctx context.Context, name string, self Member) (Subscription, error)
	Publish(ctx context.Context, name string, msg protocol.Message) error
}
