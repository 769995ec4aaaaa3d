package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tribeat/server/internal/protocol"
)

const usage = "commands: play | pause | seek <seconds> | volume <0-100> | load <url> | end | help"

var ErrUnknownCommand = errors.New("unknown command")

type verb int

const (
	verbNone verb = iota
	verbPlay
	verbPause
	verbSeek
	verbVolume
	verbLoad
	verbEnd
	verbHelp
)

type command struct {
	verb    verb
	seconds float64
	volume  int
	url     string
}

// transport is the part of the coordinator a coach command drives.
type transport interface {
	Play(context.Context) error
	Pause(context.Context) error
	Seek(context.Context, float64) error
	SetVolume(context.Context, int) error
	Load(context.Context, string) error
	End(context.Context) error
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}

	name, rest := strings.ToLower(fields[0]), fields[1:]
	wantArgs := func(n int) error {
		if len(rest) != n {
			return fmt.Errorf("%s takes %d argument(s)", name, n)
		}
		return nil
	}

	switch name {
	case "play", "pause", "end", "help":
		if err := wantArgs(0); err != nil {
			return command{}, err
		}
		return command{verb: map[string]verb{
			"play":  verbPlay,
			"pause": verbPause,
			"end":   verbEnd,
			"help":  verbHelp,
		}[name]}, nil
	case "seek":
		if err := wantArgs(1); err != nil {
			return command{}, err
		}
		seconds, err := strconv.ParseFloat(rest[0], 64)
		if err != nil || seconds < 0 {
			return command{}, fmt.Errorf("seek needs a non-negative number of seconds, got %q", rest[0])
		}
		return command{verb: verbSeek, seconds: seconds}, nil
	case "volume":
		if err := wantArgs(1); err != nil {
			return command{}, err
		}
		volume, err := strconv.Atoi(rest[0])
		if err != nil || volume < 0 || volume > 100 {
			return command{}, fmt.Errorf("volume needs a whole number from 0 to 100, got %q", rest[0])
		}
		return command{verb: verbVolume, volume: volume}, nil
	case "load":
		if err := wantArgs(1); err != nil {
			return command{}, err
		}
		if err := protocol.ValidateMediaURL(rest[0]); err != nil {
			return command{}, fmt.Errorf("load needs an http or https URL every participant can fetch, got %q", rest[0])
		}
		return command{verb: verbLoad, url: rest[0]}, nil
	}

	return command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}

func (c command) apply(ctx context.Context, t transport) error {
	switch c.verb {
	case verbPlay:
		return t.Play(ctx)
	case verbPause:
		return t.Pause(ctx)
	case verbSeek:
		return t.Seek(ctx, c.seconds)
	case verbVolume:
		return t.SetVolume(ctx, c.volume)
	case verbLoad:
		return t.Load(ctx, c.url)
	case verbEnd:
		return t.End(ctx)
	}

	return nil
}
