package drift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.UnixMilli(1_700_000_000_000)

func TestWithinDeadband(t *testing.T) {
	c := Correct(Input{
		LocalTime:       10.0,
		RemoteTime:      10.2,
		RemoteIsPlaying: true,
		ServerTimestamp: now.UnixMilli(),
		Now:             now,
	})

	assert.False(t, c.ShouldCorrect)
	assert.Equal(t, 10.0, c.TargetTime)
	assert.True(t, c.ShouldPlay)
}

func TestCorrectsLargeOffset(t *testing.T) {
	c := Correct(Input{
		LocalTime:       5.0,
		RemoteTime:      20.0,
		RemoteIsPlaying: false,
		ServerTimestamp: now.UnixMilli(),
		Now:             now,
	})

	assert.True(t, c.ShouldCorrect)
	assert.Equal(t, 20.0, c.TargetTime)
	assert.False(t, c.ShouldPlay)
}

func TestProjectsLatency(t *testing.T) {
	c := Correct(Input{
		LocalTime:       0,
		RemoteTime:      100.0,
		RemoteIsPlaying: true,
		ServerTimestamp: now.UnixMilli(),
		Now:             now.Add(2000 * time.Millisecond),
	})

	assert.InDelta(t, 102.0, c.ProjectedRemoteTime, 1e-9)
	assert.InDelta(t, 2.0, c.Latency, 1e-9)
	assert.True(t, c.ShouldCorrect)
	assert.InDelta(t, 102.0, c.TargetTime, 1e-9)
}

func TestPausedRemoteIsNotProjected(t *testing.T) {
	c := Correct(Input{
		LocalTime:       30,
		RemoteTime:      30,
		RemoteIsPlaying: false,
		ServerTimestamp: now.UnixMilli(),
		Now:             now.Add(5 * time.Second),
	})

	assert.Equal(t, 30.0, c.ProjectedRemoteTime)
	assert.False(t, c.ShouldCorrect)
}

func TestFutureTimestampClampsLatency(t *testing.T) {
	c := Correct(Input{
		LocalTime:       10,
		RemoteTime:      10,
		RemoteIsPlaying: true,
		ServerTimestamp: now.Add(3 * time.Second).UnixMilli(),
		Now:             now,
	})

	assert.Equal(t, 0.0, c.Latency)
	assert.Equal(t, 10.0, c.ProjectedRemoteTime)
}

func TestDeadbandBoundary(t *testing.T) {
	c := Correct(Input{LocalTime: 10, RemoteTime: 10.5, ServerTimestamp: now.UnixMilli(), Now: now})
	assert.False(t, c.ShouldCorrect, "exactly the deadband is tolerated")

	c = Correct(Input{LocalTime: 10, RemoteTime: 10.51, ServerTimestamp: now.UnixMilli(), Now: now})
	assert.True(t, c.ShouldCorrect)
}

func TestShouldPlayAlwaysFollowsRemote(t *testing.T) {
	for _, local := range []float64{0, 9.9, 10, 10.1, 50} {
		for _, playing := range []bool{true, false} {
			c := Correct(Input{
				LocalTime:       local,
				RemoteTime:      10,
				RemoteIsPlaying: playing,
				ServerTimestamp: now.UnixMilli(),
				Now:             now,
			})
			assert.Equal(t, playing, c.ShouldPlay)
		}
	}
}
