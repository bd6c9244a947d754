package main

import (
	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <path>",
	Short: "Replace one local file with the remote copy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer appClient.Close()

		if err := appClient.Sync.Bootstrap(cmd.Context()); err != nil {
			printError("Bootstrap failed: %v", err)
			return err
		}

		if err := appClient.Sync.DownloadCurrent(cmd.Context(), args[0]); err != nil {
			printError("Pull failed: %v", err)
			return err
		}

		printSuccess("Pulled %s", args[0])
		return nil
	},
}
