package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribeat/server/internal/identity"
	"github.com/tribeat/server/internal/playback"
)

type fakeTransport struct {
	calls []string
	err   error
}

func (f *fakeTransport) record(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeTransport) Play(context.Context) error               { return f.record("play") }
func (f *fakeTransport) Pause(context.Context) error              { return f.record("pause") }
func (f *fakeTransport) End(context.Context) error                { return f.record("end") }
func (f *fakeTransport) Seek(_ context.Context, t float64) error  { return f.record("seek %g", t) }
func (f *fakeTransport) SetVolume(_ context.Context, v int) error { return f.record("volume %d", v) }
func (f *fakeTransport) Load(_ context.Context, url string) error { return f.record("load %s", url) }

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"", command{}},
		{"   ", command{}},
		{"play", command{verb: verbPlay}},
		{"PAUSE", command{verb: verbPause}},
		{"seek 12.5", command{verb: verbSeek, seconds: 12.5}},
		{"volume 0", command{verb: verbVolume, volume: 0}},
		{"volume 100", command{verb: verbVolume, volume: 100}},
		{"load https://cdn.example.com/a.wav", command{verb: verbLoad, url: "https://cdn.example.com/a.wav"}},
		{"end", command{verb: verbEnd}},
		{"help", command{verb: verbHelp}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandRejects(t *testing.T) {
	for _, line := range []string{"seek", "seek -1", "seek abc", "volume 101", "volume -3", "volume 5.5", "load", "load /tmp/x.wav", "load file:///tmp/x.wav", "play now"} {
		t.Run(line, func(t *testing.T) {
			_, err := parseCommand(line)
			assert.Error(t, err)
		})
	}

	_, err := parseCommand("rewind")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestHandleLine(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{}
	var out bytes.Buffer

	for _, line := range []string{"load https://cdn.example.com/a.wav", "play", "seek 30", "volume 40", "", "pause"} {
		done, err := handleLine(ctx, tr, line, &out)
		require.NoError(t, err)
		assert.False(t, done)
	}

	done, err := handleLine(ctx, tr, "end", &out)
	require.NoError(t, err)
	assert.True(t, done)

	assert.Equal(t, []string{"load https://cdn.example.com/a.wav", "play", "seek 30", "volume 40", "pause", "end"}, tr.calls)

	done, err = handleLine(ctx, tr, "help", &out)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Contains(t, out.String(), "commands:")

	tr.err = errors.New("not joined")
	_, err = handleLine(ctx, tr, "play", &out)
	assert.EqualError(t, err, "not joined")
}

func TestWSBase(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080":     "ws://localhost:8080/api/v1/ws/session",
		"https://sync.example.com/": "wss://sync.example.com/api/v1/ws/session",
		"ws://10.0.0.2":             "ws://10.0.0.2/api/v1/ws/session",
	}
	for in, want := range tests {
		got, err := wsBase(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := wsBase("ftp://example.com")
	assert.Error(t, err)
}

func TestFormatState(t *testing.T) {
	assert.Equal(t, "loading...", formatState(playback.State{Volume: 80}))
	assert.Equal(t, "error: audio could not be loaded", formatState(playback.State{Error: "audio could not be loaded"}))
	assert.Equal(t, "playing 1:05 / 10:00 volume 80", formatState(playback.State{
		IsLoaded:    true,
		IsPlaying:   true,
		CurrentTime: 65.2,
		Duration:    600,
		Volume:      80,
	}))
}

func TestStatePrinterSkipsPositionOnly(t *testing.T) {
	var out bytes.Buffer
	p := newStatePrinter(&out)

	s := playback.State{IsLoaded: true, Duration: 60, Volume: 80}
	p.print(s)
	s.CurrentTime = 3
	p.print(s)
	s.IsPlaying = true
	p.print(s)

	assert.Equal(t, 2, strings.Count(out.String(), "\n"))
}

func TestTokenCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--secret", "s3cret", "--user", "coach-1", "--name", "Coach", "--role", "COACH"})
	require.NoError(t, rootCmd.Execute())

	v, err := identity.ParseToken("s3cret", strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, identity.Viewer{UserID: "coach-1", UserName: "Coach", Role: identity.RoleCoach}, v)
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		assert.Equal(t, "/api/v1/session", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"session_id":"abc","channel_name":"presence-session-abc"}`))
	}))
	defer srv.Close()

	resp, err := createSession(context.Background(), srv.URL, "good", "")
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.SessionID)

	_, err = createSession(context.Background(), srv.URL, "bad", "")
	assert.EqualError(t, err, "server refused: unauthorized")
}
