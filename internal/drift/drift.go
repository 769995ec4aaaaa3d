// Package drift reconciles a locally observed playback position with the position reported by
// the session controller.
package drift

import (
	"math"
	"time"
)

// Deadband is the largest position offset left uncorrected.
const Deadband = 0.5

type Input struct {
	LocalTime       float64
	RemoteTime      float64
	RemoteIsPlaying bool
	// ServerTimestamp is when the remote position was sampled, in epoch milliseconds.
	ServerTimestamp int64
	Now             time.Time
}

type Correction struct {
	TargetTime          float64
	ShouldPlay          bool
	ShouldCorrect       bool
	ProjectedRemoteTime float64
	Latency             float64
}

// Latency is the one-way delay estimate in seconds, never negative.
func Latency(serverTimestamp int64, now time.Time) float64 {
	return math.Max(0, float64(now.UnixMilli()-serverTimestamp)/1000)
}

// Project moves a playing remote position forward by the propagation delay.
func Project(remoteTime float64, remoteIsPlaying bool, serverTimestamp int64, now time.Time) float64 {
	if !remoteIsPlaying {
		return remoteTime
	}

	return remoteTime + Latency(serverTimestamp, now)
}

// Correct decides whether the local position must jump to the remote one. Play state always
// follows the remote; only the position is subject to the deadband.
func Correct(in Input) Correction {
	latency := Latency(in.ServerTimestamp, in.Now)
	projected := in.RemoteTime
	if in.RemoteIsPlaying {
		projected += latency
	}

	c := Correction{
		TargetTime:          in.LocalTime,
		ShouldPlay:          in.RemoteIsPlaying,
		ShouldCorrect:       math.Abs(in.LocalTime-projected) > Deadband,
		ProjectedRemoteTime: projected,
		Latency:             latency,
	}
	if c.ShouldCorrect {
		c.TargetTime = projected
	}

	return c
}
