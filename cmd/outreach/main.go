package main

import (
	"os"

	"outreach_engine/internal/infra/config"
	"outreach_engine/internal/infra/logger"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "outreach",
		Short:         "Campaign dispatch and cadence engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		serveCommand(),
		migrateCommand(),
		importCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		logger.Log.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

// loadConfig loads configuration and initialises the global logger.
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg)
	return cfg, nil
}
