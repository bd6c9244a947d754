package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/drivesync/internal/services/sync"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Synchronize continuously until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer appClient.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := appClient.Sync.Bootstrap(ctx); err != nil {
			printError("Bootstrap failed: %v", err)
			return err
		}
		printSuccess("Session ready, watching %s", appCfg.Vault.Dir)

		go reportEvents(ctx, appClient.Sync.Engine())

		go func() {
			if err := appClient.Watch(ctx); err != nil && ctx.Err() == nil {
				printError("Watcher stopped: %v", err)
			}
		}()

		if err := appClient.Sync.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}

		printInfo("Stopped")
		return nil
	},
}

// reportEvents mirrors engine progress to the terminal.
func reportEvents(ctx context.Context, engine *sync.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-engine.Events():
			switch ev.Type {
			case sync.EventUploaded:
				printSuccess("Uploaded %s", ev.Path)
			case sync.EventDownloaded:
				printSuccess("Downloaded %s", ev.Path)
			case sync.EventDeletedLocal:
				printInfo("Removed %s (deleted on remote)", ev.Path)
			case sync.EventQueued:
				printInfo("Queued %s %s (offline)", ev.Message, ev.Path)
			case sync.EventDrained:
				printSuccess("Offline queue replayed")
			case sync.EventOffline:
				printWarn("Offline: %s", ev.Message)
			case sync.EventOnline:
				printSuccess("Back online")
			case sync.EventHalted:
				printError("Halted: %s", ev.Message)
			case sync.EventNotice:
				if ev.Err != nil {
					printWarn("%s: %v", ev.Message, ev.Err)
				} else {
					printInfo("%s", ev.Message)
				}
			}
		}
	}
}
