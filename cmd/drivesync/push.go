package main

import (
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push <path>",
	Short: "Upload one file's current content now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer appClient.Close()

		if err := appClient.Sync.Bootstrap(cmd.Context()); err != nil {
			printError("Bootstrap failed: %v", err)
			return err
		}

		if err := appClient.Sync.UploadCurrent(cmd.Context(), args[0]); err != nil {
			printError("Push failed: %v", err)
			return err
		}

		if appClient.Sync.Engine().Online() {
			printSuccess("Pushed %s", args[0])
		} else {
			printWarn("Offline; queued %s for upload", args[0])
		}
		return nil
	},
}
