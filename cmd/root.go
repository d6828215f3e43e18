package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tsawler/go-checkpoint/config"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "go-checkpoint",
	Short:         "training checkpoint tracker and experiment path tables",
	Long:          `Inspect experiment path tables, decode saved checkpoints and replay metric sequences through the checkpoint tracker.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: config.yaml or config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose/debug output")

	rootCmd.AddCommand(variantsCmd)
	rootCmd.AddCommand(pathsCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file selected by --config
func loadConfig(logger logrus.FieldLogger) (*config.Config, error) {
	manager := config.NewManager(configFile, logger)
	if err := manager.LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return manager.GetConfig(), nil
}
