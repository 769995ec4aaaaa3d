// Package cli implements sessionctl, a terminal client for live sessions.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tribeat/server/pkg/ctxlogger"
)

const envPrefix = "SESSIONCTL"

var logger = slog.Default()

var rootCmd = &cobra.Command{
	Use:   "sessionctl",
	Short: "Join and drive live audio sessions from the terminal",
	Long: `sessionctl talks to a session server. It can mint development tokens, create sessions,
follow a session through the local speaker, or act as the coach of one.

Every flag can also be set through the environment, e.g. SESSIONCTL_SERVER or SESSIONCTL_TOKEN.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:80", "session server base URL")
	rootCmd.PersistentFlags().String("token", "", "viewer token")
	rootCmd.PersistentFlags().String("log-level", "WARN", "logging level")
}

func initConfig(cmd *cobra.Command) error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(viper.GetString("log-level")))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	logger = slog.New(ctxlogger.ContextHandler{
		Handler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	})

	return nil
}

func requireToken() (string, error) {
	token := viper.GetString("token")
	if token == "" {
		return "", fmt.Errorf("a token is required, pass --token or set %s_TOKEN", envPrefix)
	}

	return token, nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
