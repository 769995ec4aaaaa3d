package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/tribeat/server/internal/channel"
	"github.com/tribeat/server/internal/identity"
	"github.com/tribeat/server/internal/protocol"
	"github.com/tribeat/server/internal/repository/connection"
	"github.com/tribeat/server/pkg/ctxlogger"
)

// ErrorEvent is the kind of the frame a viewer gets when its message is rejected.
const ErrorEvent protocol.Kind = "error"

type ErrorData struct {
	Message string `json:"message"`
}

type ConnectViewerParams struct {
	Conn      *websocket.Conn
	SessionID string
	Viewer    identity.Viewer
}

type ConnectViewerResponse struct {
	State protocol.SessionState
}

// ConnectViewer subscribes conn to the session channel. The viewer first receives the current
// roster and the stored state, then everything published on the channel. The state is read after
// subscribing so no event falls between the two.
func (s service) ConnectViewer(ctx context.Context, params *ConnectViewerParams) (ConnectViewerResponse, error) {
	channelName := protocol.ChannelName(params.SessionID)
	sub, err := s.channel.Subscribe(ctx, channelName, channel.Member{
		ID:   params.Viewer.UserID,
		Name: params.Viewer.UserName,
	})
	if err != nil {
		return ConnectViewerResponse{}, fmt.Errorf("failed to subscribe: %w", err)
	}

	stored, err := s.getSession(ctx, params.SessionID)
	if err != nil {
		sub.Close()
		return ConnectViewerResponse{}, err
	}

	if err := s.connRepo.Add(params.Conn, connection.Client{
		SessionID:    params.SessionID,
		Viewer:       params.Viewer,
		Subscription: sub,
	}); err != nil {
		sub.Close()
		return ConnectViewerResponse{}, fmt.Errorf("failed to add conn: %w", err)
	}

	state := toSessionState(params.SessionID, stored)
	if err := s.sendWelcome(ctx, params.Conn, sub, state); err != nil {
		s.DisconnectViewer(ctx, params.Conn)
		return ConnectViewerResponse{}, err
	}

	relayCtx := ctxlogger.AppendCtx(context.Background(), slog.String("session_id", params.SessionID))
	relayCtx = ctxlogger.AppendCtx(relayCtx, slog.String("user_id", params.Viewer.UserID))
	go s.relay(relayCtx, params.Conn, params.SessionID, sub)

	return ConnectViewerResponse{State: state}, nil
}

func (s service) sendWelcome(ctx context.Context, conn *websocket.Conn, sub channel.Subscription, state protocol.SessionState) error {
	members, err := sub.Members(ctx)
	if err != nil {
		return fmt.Errorf("failed to get members: %w", err)
	}

	for _, m := range members {
		if err := s.sendParticipant(conn, protocol.KindParticipantJoined, state.SessionID, m, len(members)); err != nil {
			return err
		}
	}
	if err := s.sendParticipant(conn, protocol.KindParticipantCount, state.SessionID, channel.Member{}, len(members)); err != nil {
		return err
	}

	msg, err := protocol.NewMessage(protocol.KindState, state)
	if err != nil {
		return err
	}

	if err := s.connRepo.Write(conn, msg); err != nil {
		return fmt.Errorf("failed to send state: %w", err)
	}

	return nil
}

func (s service) sendParticipant(conn *websocket.Conn, kind protocol.Kind, sessionID string, m channel.Member, count int) error {
	msg, err := protocol.NewMessage(kind, protocol.ParticipantEvent{
		SessionID: sessionID,
		UserID:    m.ID,
		UserName:  m.Name,
		Count:     count,
	})
	if err != nil {
		return err
	}

	if err := s.connRepo.Write(conn, msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}

	return nil
}

// relay forwards deliveries of sub to conn until the subscription is closed.
func (s service) relay(ctx context.Context, conn *websocket.Conn, sessionID string, sub channel.Subscription) {
	s.logger.DebugContext(ctx, "relay started")
	defer s.logger.DebugContext(ctx, "relay stopped")

	for d := range sub.Deliveries() {
		var err error
		switch {
		case d.Message != nil:
			err = s.connRepo.Write(conn, d.Message)
		case d.Membership != nil:
			err = s.relayMembership(conn, sessionID, d.Membership)
		}

		if err != nil && !errors.Is(err, connection.ErrNotFound) {
			s.logger.InfoContext(ctx, "failed to relay delivery", "error", err)
		}
	}
}

func (s service) relayMembership(conn *websocket.Conn, sessionID string, m *channel.Membership) error {
	switch m.Kind {
	case channel.MemberJoined:
		if err := s.sendParticipant(conn, protocol.KindParticipantJoined, sessionID, m.Member, m.Count); err != nil {
			return err
		}
	case channel.MemberLeft:
		if err := s.sendParticipant(conn, protocol.KindParticipantLeft, sessionID, m.Member, m.Count); err != nil {
			return err
		}
	}

	return s.sendParticipant(conn, protocol.KindParticipantCount, sessionID, channel.Member{}, m.Count)
}

// DisconnectViewer forgets conn and leaves the session channel. It does not close conn.
func (s service) DisconnectViewer(ctx context.Context, conn *websocket.Conn) error {
	client, err := s.connRepo.Remove(conn)
	if err != nil {
		return fmt.Errorf("failed to remove conn: %w", err)
	}

	if err := client.Subscription.Close(); err != nil {
		return fmt.Errorf("failed to close subscription: %w", err)
	}

	s.logger.DebugContext(ctx, "viewer disconnected", "session_id", client.SessionID, "user_id", client.Viewer.UserID)
	return nil
}

type HandleViewerMessageParams struct {
	Conn  *websocket.Conn
	Event protocol.Kind
	Data  []byte
}

// HandleViewerMessage publishes a message received over a viewer's websocket. Only the coach of
// the session may send transport events.
func (s service) HandleViewerMessage(ctx context.Context, params *HandleViewerMessageParams) error {
	client, err := s.connRepo.Get(params.Conn)
	if err != nil {
		return fmt.Errorf("failed to get conn: %w", err)
	}

	_, err = s.PublishEvent(ctx, &PublishEventParams{
		SessionID: client.SessionID,
		Sender:    client.Viewer,
		Event:     params.Event,
		Data:      params.Data,
	})

	return err
}

// SendError writes an error frame to conn.
func (s service) SendError(conn *websocket.Conn, message string) error {
	msg, err := protocol.NewMessage(ErrorEvent, ErrorData{Message: message})
	if err != nil {
		return err
	}

	return s.connRepo.Write(conn, msg)
}
