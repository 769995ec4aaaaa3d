package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tribeat/server/internal/identity"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a viewer token",
	Long: `Mint a viewer token signed with the server secret. Meant for development, production
tokens come from the identity provider.

Example:
  sessionctl token --secret s3cret --user coach-1 --name Coach --role COACH`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().String("secret", "", "server secret")
	tokenCmd.Flags().String("user", "", "user id")
	tokenCmd.Flags().String("name", "", "display name")
	tokenCmd.Flags().String("role", string(identity.RoleParticipant), "COACH, PARTICIPANT or SUPER_ADMIN")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime, 0 for no expiry")

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	v := identity.Viewer{
		UserID:   viper.GetString("user"),
		UserName: viper.GetString("name"),
		Role:     identity.Role(viper.GetString("role")),
	}
	if v.UserID == "" {
		return fmt.Errorf("--user is required")
	}
	if !v.Role.Valid() {
		return fmt.Errorf("unknown role %q", v.Role)
	}

	token, err := identity.IssueToken(viper.GetString("secret"), v, viper.GetDuration("ttl"))
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
