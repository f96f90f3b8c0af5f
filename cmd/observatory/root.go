package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/observatory/internal/config"
	"github.com/rewired-gh/observatory/internal/logger"
)

var version = "dev"

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "observatory",
	Short: "Cross-country narrative hotspots and flows",
	Long: `observatory collects per-country topic signals from GDELT, Google Trends and
Wikipedia, scores per-country hotspots and detects time-decayed narrative flows
between countries.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		logger.Init(cfg.Logging.Level, cfg.Logging.Format)
		if configPath != "" {
			logger.Info("Configuration loaded from %s", configPath)
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		logger.Sync()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("observatory version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (optional)")
	rootCmd.AddCommand(versionCmd)
}
