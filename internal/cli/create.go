package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a live session",
	Long: `Create a live session as its coach and print the session id.

Example:
  sessionctl create --media https://cdn.example.com/class.wav`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().String("media", "", "media URL of the session")

	rootCmd.AddCommand(createCmd)
}

type createSessionResponse struct {
	SessionID   string `json:"session_id"`
	ChannelName string `json:"channel_name"`
	Error       string `json:"error"`
}

func runCreate(cmd *cobra.Command, args []string) error {
	token, err := requireToken()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := createSession(ctx, viper.GetString("server"), token, viper.GetString("media"))
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), resp.SessionID)
	return nil
}

func createSession(ctx context.Context, server, token, mediaURL string) (createSessionResponse, error) {
	body, err := json.Marshal(map[string]string{"media_url": mediaURL})
	if err != nil {
		return createSessionResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/api/v1/session", bytes.NewReader(body))
	if err != nil {
		return createSessionResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return createSessionResponse{}, fmt.Errorf("failed to create session: %w", err)
	}
	defer resp.Body.Close()

	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return createSessionResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		if out.Error == "" {
			out.Error = resp.Status
		}
		return createSessionResponse{}, fmt.Errorf("server refused: %s", out.Error)
	}

	return out, nil
}
