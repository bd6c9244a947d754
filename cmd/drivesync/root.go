package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/drivesync/internal/client"
	"github.com/TheMichaelB/drivesync/internal/config"
	"github.com/TheMichaelB/drivesync/internal/events"
)

var (
	cfgFile    string
	vaultDir   string
	verbose    bool
	jsonOutput bool

	appCfg    *config.Config
	appLogger *events.Logger
	appClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "drivesync",
	Short: "Two-way vault synchronization with a remote drive folder",
	Long: `drivesync keeps a local note vault and a remote drive folder in step:
periodic reconciliation against the remote listing, live upload of local
edits, and a durable offline queue replayed in order when connectivity
returns.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&vaultDir, "vault", "", "vault directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable output")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(statusCmd)
}

func initApp() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if vaultDir != "" {
		cfg.Vault.Dir = vaultDir
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	appCfg = cfg

	// The secondary log files live in the state dir; create it before the
	// logger opens them.
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logCfg := &events.LogConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAge,
	}
	if cfg.Log.ErrorLog {
		logCfg.ErrorFile = cfg.ErrorLogPath()
	}
	if cfg.Log.Verbose {
		logCfg.TraceFile = cfg.TraceLogPath()
	}
	appLogger = events.NewLogger(logCfg)
	events.SetDefault(appLogger)

	c, err := client.New(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	appClient = c
	return nil
}
