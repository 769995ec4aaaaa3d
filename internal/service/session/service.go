package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tribeat/server/internal/channel"
	"github.com/tribeat/server/internal/identity"
	"github.com/tribeat/server/internal/repository/connection"
	repo "github.com/tribeat/server/internal/repository/session"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionEnded     = errors.New("session has ended")
	ErrInvalidEvent     = errors.New("invalid event")
	ErrMissingData      = errors.New("missing event data")
	ErrInvalidPayload   = errors.New("invalid event payload")
	ErrUnauthorized     = errors.New("unauthorized")
)

type iSessionRepo interface {
	SetSession(context.Context, *repo.SetSessionParams) error
	GetSession(context.Context, string) (repo.Session, error)
	UpdateSession(context.Context, *repo.UpdateSessionParams) error
}

type iConnRepo interface {
	Add(*websocket.Conn, connection.Client) error
	Remove(*websocket.Conn) (connection.Client, error)
	Get(*websocket.Conn) (connection.Client, error)
	GetSessionConns(string) []*websocket.Conn
	GetSessionIDs() []string
	Write(*websocket.Conn, any) error
}

type Config struct {
	Secret string
	// StateInterval is how often every local viewer gets the stored state. Zero disables it.
	StateInterval time.Duration
	Now           func() time.Time
}

type service struct {
	sessionRepo   iSessionRepo
	connRepo      iConnRepo
	channel       channel.Channel
	secret        string
	stateInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

func NewService(sessionRepo iSessionRepo, connRepo iConnRepo, ch channel.Channel, cfg *Config, logger *slog.Logger) *service {
	s := service{
		sessionRepo:   sessionRepo,
		connRepo:      connRepo,
		channel:       ch,
		secret:        cfg.Secret,
		stateInterval: cfg.StateInterval,
		now:           cfg.Now,
		logger:        logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return &s
}

// Authenticate resolves the viewer behind a bearer token.
func (s service) Authenticate(token string) (identity.Viewer, error) {
	if token == "" {
		return identity.Viewer{}, ErrUnauthorized
	}

	v, err := identity.ParseToken(s.secret, token)
	if err != nil {
		return identity.Viewer{}, errors.Join(ErrUnauthorized, err)
	}

	return v, nil
}

func (s service) getSession(ctx context.Context, sessionID string) (repo.Session, error) {
	stored, err := s.sessionRepo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrSessionNotFound) {
			return repo.Session{}, ErrSessionNotFound
		}
		return repo.Session{}, err
	}

	return stored, nil
}

// checkIfCoach allows the session's coach and super admins.
func (s service) checkIfCoach(stored repo.Session, viewer identity.Viewer) error {
	if viewer.UserID == stored.CoachID || viewer.Role == identity.RoleSuperAdmin {
		return nil
	}

	return ErrPermissionDenied
}
