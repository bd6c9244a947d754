package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the refresh credential and verify it",
	RunE: func(cmd *cobra.Command, args []string) error {
		token := os.Getenv("DRIVESYNC_AUTH_REFRESH_TOKEN")
		if token == "" {
			fmt.Print("Refresh token: ")
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("read token: %w", err)
			}
			token = strings.TrimSpace(string(raw))
		}
		if token == "" {
			return fmt.Errorf("no token provided")
		}

		appClient.Auth.SetRefreshToken(token)
		if err := appClient.Auth.Refresh(cmd.Context()); err != nil {
			printError("Credential rejected: %v", err)
			return err
		}

		printSuccess("Logged in; bearer token cached")
		printInfo("Persist the credential in config as auth.refresh_token or via DRIVESYNC_AUTH_REFRESH_TOKEN")
		return nil
	},
}
