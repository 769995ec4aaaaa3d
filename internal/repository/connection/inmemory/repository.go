package inmemory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tribeat/server/internal/repository/connection"
	"golang.org/x/exp/maps"
)

const writeWait = 10 * time.Second

type entry struct {
	client  connection.Client
	writeMu sync.Mutex
}

type repo struct {
	connList    map[*websocket.Conn]*entry
	sessionList map[string]map[*websocket.Conn]struct{}
	mu          sync.RWMutex
}

func NewRepo() *repo {
	return &repo{
		connList:    make(map[*websocket.Conn]*entry),
		sessionList: make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (r *repo) Add(conn *websocket.Conn, client connection.Client) error {
	funcName := "connection.inmemory.Add"
	r.mu.Lock()
	defer r.mu.Unlock()

	slog.Debug(funcName, "session_id", client.SessionID, "user_id", client.Viewer.UserID)
	if _, ok := r.connList[conn]; ok {
		slog.Info(funcName, "error", connection.ErrAlreadyExists)
		return connection.ErrAlreadyExists
	}

	r.connList[conn] = &entry{client: client}
	conns, ok := r.sessionList[client.SessionID]
	if !ok {
		conns = make(map[*websocket.Conn]struct{})
		r.sessionList[client.SessionID] = conns
	}
	conns[conn] = struct{}{}

	slog.Debug(funcName, "result", "OK")
	return nil
}

// Remove forgets conn and returns what was stored for it. It does not close conn.
func (r *repo) Remove(conn *websocket.Conn) (connection.Client, error) {
	funcName := "connection.inmemory.Remove"
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.connList[conn]
	if !ok {
		slog.Info(funcName, "error", connection.ErrNotFound)
		return connection.Client{}, connection.ErrNotFound
	}

	delete(r.connList, conn)
	if conns, ok := r.sessionList[e.client.SessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.sessionList, e.client.SessionID)
		}
	}

	slog.Debug(funcName, "result", e.client.Viewer.UserID)
	return e.client, nil
}

func (r *repo) Get(conn *websocket.Conn) (connection.Client, error) {
	funcName := "connection.inmemory.Get"
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.connList[conn]
	if !ok {
		slog.Info(funcName, "error", connection.ErrNotFound)
		return connection.Client{}, connection.ErrNotFound
	}

	return e.client, nil
}

func (r *repo) GetSessionConns(sessionID string) []*websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Keys(r.sessionList[sessionID])
}

func (r *repo) GetSessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Keys(r.sessionList)
}

// Write sends v as JSON. Writes to one connection are serialized.
func (r *repo) Write(conn *websocket.Conn, v any) error {
	r.mu.RLock()
	e, ok := r.connList[conn]
	r.mu.RUnlock()
	if !ok {
		return connection.ErrNotFound
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
