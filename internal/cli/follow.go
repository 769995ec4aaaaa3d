package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tribeat/server/internal/coordinator"
)

var followCmd = &cobra.Command{
	Use:   "follow <session-id>",
	Short: "Listen to a live session",
	Long: `Join a live session as a participant and play it through the local speaker, kept in
sync with the coach. Stops when the coach ends the session or on Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runFollow,
}

func init() {
	rootCmd.AddCommand(followCmd)
}

func runFollow(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	coord, err := joinSession(ctx, args[0], coordinator.RoleFollower, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer coord.Leave()

	waitEnded(ctx, coord)
	if coord.Phase() == coordinator.Ended {
		fmt.Fprintln(cmd.OutOrStdout(), "session ended")
	}

	return nil
}
