package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribeat/server/internal/channel"
	"github.com/tribeat/server/internal/channel/wsclient"
	"github.com/tribeat/server/internal/coordinator"
	"github.com/tribeat/server/internal/identity"
	"github.com/tribeat/server/internal/playback"
	"github.com/tribeat/server/internal/playback/playbacktest"
)

const secret = "app-secret"

func testConfig() *AppConfig {
	return &AppConfig{
		Secret:        secret,
		Host:          "127.0.0.1",
		Port:          8080,
		LogLevel:      "DEBUG",
		SessionTTL:    time.Hour,
		StateInterval: 0,
		RedisHost:     "localhost",
		RedisPort:     6379,
	}
}

func TestAppConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	cfg := testConfig()
	cfg.Secret = ""
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.SessionTTL = time.Second
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.StateInterval = -time.Second
	assert.Error(t, cfg.Validate())
}

func issue(t *testing.T, v identity.Viewer) string {
	t.Helper()

	tok, err := identity.IssueToken(secret, v, time.Hour)
	require.NoError(t, err)

	return tok
}

func post(t *testing.T, url, tok string, body any) map[string]any {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Less(t, resp.StatusCode, 300)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

// TestFollowerTracksCoach runs a follower coordinator against the full server stack and drives
// the session through the REST surface.
func TestFollowerTracksCoach(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(newHandler(ctx, rc, testConfig(), slog.Default()))
	t.Cleanup(srv.Close)

	coach := identity.Viewer{UserID: "coach-1", UserName: "Coach", Role: identity.RoleCoach}
	ann := identity.Viewer{UserID: "user-1", UserName: "Ann", Role: identity.RoleParticipant}
	coachToken := issue(t, coach)

	created := post(t, srv.URL+"/api/v1/session", coachToken, map[string]any{
		"media_url": "https://cdn.example.com/class.wav",
	})
	sessionID := created["session_id"].(string)

	res := playbacktest.NewResource(600)
	player := playback.New(res, &playback.Config{RefreshInterval: time.Hour})
	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/session"
	follower := coordinator.New(&coordinator.Config{
		Channel: wsclient.New(wsBase, issue(t, ann), slog.Default()),
		Player:  player,
		Self:    channel.Member{ID: ann.UserID, Name: ann.UserName},
	})
	t.Cleanup(follower.Leave)

	require.NoError(t, follower.Join(ctx, sessionID, coordinator.RoleFollower))
	require.Eventually(t, func() bool {
		return player.State().IsLoaded && len(res.Seeks()) > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "https://cdn.example.com/class.wav", res.URL())
	assert.Equal(t, 1, follower.Participants())

	eventURL := srv.URL + "/api/v1/session/" + sessionID + "/event"
	resp := post(t, eventURL, coachToken, map[string]any{
		"event": "session:play",
		"data":  map[string]any{"currentTime": 30},
	})
	assert.Equal(t, "session:play", resp["event"])

	require.Eventually(t, func() bool {
		return player.State().IsPlaying
	}, 2*time.Second, 5*time.Millisecond)
	seeks := res.Seeks()
	assert.InDelta(t, 30, seeks[len(seeks)-1], 1)

	post(t, eventURL, coachToken, map[string]any{
		"event": "session:volume",
		"data":  map[string]any{"volume": 25},
	})
	require.Eventually(t, func() bool {
		return player.State().Volume == 25
	}, 2*time.Second, 5*time.Millisecond)

	post(t, eventURL, coachToken, map[string]any{
		"event": "session:end",
		"data":  map[string]any{},
	})
	require.Eventually(t, func() bool {
		return follower.Phase() == coordinator.Ended
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, player.State().IsPlaying)
}
