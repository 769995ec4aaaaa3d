package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tribeat/server/internal/coordinator"
	"github.com/tribeat/server/internal/protocol"
)

var coachCmd = &cobra.Command{
	Use:   "coach <session-id>",
	Short: "Drive a live session",
	Long: `Join a live session as its coach. Commands are read from stdin, one per line:

  play | pause | seek <seconds> | volume <0-100> | load <url> | end | help`,
	Args: cobra.ExactArgs(1),
	RunE: runCoach,
}

func init() {
	coachCmd.Flags().String("media", "", "media URL to load after joining")
	coachCmd.Flags().Duration("resync", 0, "republish the full state at this interval, 0 disables it")

	rootCmd.AddCommand(coachCmd)
}

func runCoach(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	mediaURL := viper.GetString("media")
	if mediaURL != "" {
		if err := protocol.ValidateMediaURL(mediaURL); err != nil {
			return fmt.Errorf("invalid --media: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	coord, err := joinSession(ctx, args[0], coordinator.RoleController, out)
	if err != nil {
		return err
	}
	defer coord.Leave()

	if mediaURL != "" {
		if err := coord.Load(ctx, mediaURL); err != nil {
			return err
		}
	}

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			done, err := handleLine(ctx, coord, line, out)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
			}
			if done {
				return nil
			}
		}
	}
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

// handleLine runs one coach command. done reports that the session was ended.
func handleLine(ctx context.Context, t transport, line string, out io.Writer) (bool, error) {
	c, err := parseCommand(line)
	if err != nil {
		return false, err
	}

	switch c.verb {
	case verbNone:
		return false, nil
	case verbHelp:
		fmt.Fprintln(out, usage)
		return false, nil
	}

	if err := c.apply(ctx, t); err != nil {
		return false, err
	}

	return c.verb == verbEnd, nil
}
