package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/auth"
)

var (
	tokenUserID   string
	tokenUsername string
)

// tokenCmd mints a dashboard token with the configured secret, for local
// testing without the account service.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a dashboard access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUserID == "" {
			return fmt.Errorf("--user-id is required")
		}

		token, err := auth.NewJWTManager(cfg.Auth.JWTSecretKey, cfg.Auth.TokenTTL).GenerateToken(tokenUserID, tokenUsername)
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "", "user the token is issued to")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "display name carried in the token")
}
