package main

import (
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Provision the remote vault folder and upload the local vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer appClient.Close()

		printInfo("Provisioning vault %q", appCfg.VaultName())
		if err := appClient.Sync.Provision(cmd.Context()); err != nil {
			printError("Provisioning failed: %v", err)
			return err
		}

		printSuccess("Vault provisioned")
		return nil
	},
}
