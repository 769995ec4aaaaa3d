package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribeat/server/internal/channel"
	"github.com/tribeat/server/internal/protocol"
)

// echoServer announces one member, then echoes every frame back to the sender.
func echoServer(t *testing.T) (*httptest.Server, chan string) {
	t.Helper()

	paths := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path + "?" + r.URL.RawQuery

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		joined, _ := protocol.NewMessage(protocol.KindParticipantJoined, protocol.ParticipantEvent{
			SessionID: "abc",
			UserID:    "coach",
			UserName:  "Coach",
			Count:     2,
		})
		if err := conn.WriteJSON(joined); err != nil {
			return
		}

		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return srv, paths
}

func next(t *testing.T, sub channel.Subscription) channel.Delivery {
	t.Helper()

	select {
	case d, ok := <-sub.Deliveries():
		require.True(t, ok, "deliveries closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("delivery timed out")
	}

	return channel.Delivery{}
}

func TestClientRoundTrip(t *testing.T) {
	srv, paths := echoServer(t)
	ctx := context.Background()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/session/"
	c := New(base, "tok en", nil)
	name := protocol.ChannelName("abc")

	sub, err := c.Subscribe(ctx, name, channel.Member{ID: "p1", Name: "Pat"})
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, "/api/v1/ws/session/abc?token=tok+en", <-paths)

	d := next(t, sub)
	require.NotNil(t, d.Membership)
	assert.Equal(t, channel.MemberJoined, d.Membership.Kind)
	assert.Equal(t, "coach", d.Membership.Member.ID)
	assert.Equal(t, 2, d.Membership.Count)

	members, err := sub.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []channel.Member{{ID: "coach", Name: "Coach"}, {ID: "p1", Name: "Pat"}}, members)

	msg, err := protocol.NewMessage(protocol.KindPause, protocol.PauseEvent{SessionID: "abc", CurrentTime: 7})
	require.NoError(t, err)
	require.NoError(t, c.Publish(ctx, name, msg))

	d = next(t, sub)
	require.NotNil(t, d.Message)
	assert.Equal(t, protocol.KindPause, d.Message.Event)
}

func TestSubscribeRejectsForeignChannel(t *testing.T) {
	c := New("ws://127.0.0.1:1", "t", nil)

	_, err := c.Subscribe(context.Background(), "private-room-1", channel.Member{ID: "p1"})
	assert.ErrorIs(t, err, channel.ErrInvalidChannel)
}

func TestPublishRequiresSubscription(t *testing.T) {
	c := New("ws://127.0.0.1:1", "t", nil)

	err := c.Publish(context.Background(), protocol.ChannelName("abc"), protocol.Message{Event: protocol.KindEnd})
	assert.ErrorIs(t, err, channel.ErrNotSubscribed)
}
