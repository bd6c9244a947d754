package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/drivesync/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show credential and offline-queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer appClient.Close()

		var pendingStore state.Store
		var err error
		if appCfg.State.Backend == "sqlite" {
			pendingStore, err = state.NewSQLiteStore(appCfg.PendingLogPath(), appLogger)
		} else {
			pendingStore, err = state.NewJSONStore(appCfg.PendingLogPath(), appLogger)
		}
		if err != nil {
			return err
		}
		defer pendingStore.Close()

		pending, err := pendingStore.Load()
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(map[string]interface{}{
				"vault":          appCfg.VaultName(),
				"has_credential": appClient.Auth.HasCredential(),
				"pending":        len(pending.Items),
				"pending_items":  pending.Items,
			})
		}

		printInfo("Vault: %s", appCfg.VaultName())
		if appClient.Auth.HasCredential() {
			printSuccess("Credential configured")
		} else {
			printWarn("No credential; run 'drivesync login'")
		}

		if len(pending.Items) == 0 {
			printSuccess("Offline queue empty")
			return nil
		}

		printWarn("%d pending operation(s):", len(pending.Items))
		for _, item := range pending.Items {
			name := item.NewFileName
			if name == "" {
				if p, ok := pending.FinalNames[item.FileID]; ok {
					name = p
				} else {
					name = item.FileID
				}
			}
			printInfo("  %s %s (%s)", item.Action, name, item.TimeStamp.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}
