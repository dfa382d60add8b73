package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flumehq/flume/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show resolved configuration paths and provider summary",
	RunE:  runConfigInfo,
}

func runConfigInfo(cmd *cobra.Command, args []string) error {
	userPath := config.GetUserConfigPath()
	marker := color.YellowString("(not found, using defaults)")
	if _, err := os.Stat(userPath); err == nil {
		marker = color.GreenString("(found)")
	}
	fmt.Printf("User config:  %s %s\n", userPath, marker)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("State db:     %s (enabled: %v)\n", cfg.StatePath(), cfg.State.Enabled)
	fmt.Printf("Mode:         %s, workers %d\n", cfg.Orchestrator.Mode, cfg.Orchestrator.MaxWorkers)
	fmt.Printf("Providers:    %d configured\n", len(cfg.Providers))
	for _, p := range cfg.Providers {
		fmt.Printf("  %-16s %s/%s\n", p.ID, p.Kind, p.Tier)
	}
	return nil
}
