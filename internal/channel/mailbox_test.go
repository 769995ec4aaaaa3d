package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribeat/server/internal/protocol"
)

func TestMailboxKeepsOrder(t *testing.T) {
	m := NewMailbox()
	defer m.Close()

	kinds := []protocol.Kind{protocol.KindPlay, protocol.KindPause, protocol.KindSeek, protocol.KindPlay}
	for _, k := range kinds {
		require.True(t, m.Put(Delivery{Message: &protocol.Message{Event: k}}))
	}

	for _, want := range kinds {
		select {
		case d := <-m.Out():
			require.NotNil(t, d.Message)
			assert.Equal(t, want, d.Message.Event)
		case <-time.After(time.Second):
			t.Fatal("delivery timed out")
		}
	}
}

func TestMailboxClose(t *testing.T) {
	m := NewMailbox()
	m.Put(Delivery{Membership: &Membership{Kind: MemberCount, Count: 1}})
	m.Close()
	m.Close()

	assert.False(t, m.Put(Delivery{}))

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-m.Out():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("out channel was not closed")
		}
	}
}
