package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/app"
	"github.com/ternarybob/bidharvest/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Multiple --config flags supported, later files win

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:           "bidharvest",
	Short:         "Collect newly opened bids from procurement portals",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return loadConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil,
		"Configuration file path (can be specified multiple times, later files override earlier ones)")

	rootCmd.AddCommand(
		serveCmd,
		submitCmd,
		statusCmd,
		cancelCmd,
		jobsCmd,
		logsCmd,
		sourcesCmd,
		versionCmd,
	)
}

// loadConfig runs the startup sequence: config (defaults -> files -> env), then logger
func loadConfig() error {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("bidharvest.toml"); err == nil {
			configFiles = append(configFiles, "bidharvest.toml")
		} else if _, err := os.Stat("deployments/local/bidharvest.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/bidharvest.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration %v: %w", configFiles, err)
	}

	logger = common.InitLogger(config)
	logger.Debug().
		Strs("config_files", configFiles).
		Str("storage_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Msg("Resolved configuration")
	return nil
}

// openApp initializes the application without starting workers or the scheduler
func openApp() (*app.App, error) {
	application, err := app.New(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return application, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
