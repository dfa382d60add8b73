package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flumehq/flume/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "flume",
	Short: "Resilient task-graph execution over tiered providers",
	Long: `Flume executes dependency graphs of tasks over a pool of capability
providers grouped into quality/cost tiers.

Each task runs through a fallback chain with circuit breaking, local
rate limiting, retry with backoff, and a shared deadline. Graphs run
sequentially, in parallel, or iteratively with a quality gate that
escalates weak results to higher tiers.

Define a graph in YAML and run it:
  flume run graph.yaml

Or watch a spool directory and execute graphs as they arrive:
  flume watch ./spool`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration, honoring the --config flag.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default: XDG config, then .flume.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
