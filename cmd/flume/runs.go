package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flumehq/flume/internal/state"
)

var (
	runsLimit int
	runsPurge time.Duration
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent graph runs from the state database",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 10, "Number of runs to show")
	runsCmd.Flags().DurationVar(&runsPurge, "purge-older-than", 0, "Delete runs older than this duration before listing (e.g. 720h)")
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := cfg.StatePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("No runs recorded. Enable state in config and run a graph.")
		return nil
	}

	db, err := state.Open(path)
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state db: %w", err)
	}

	if runsPurge > 0 {
		deleted, err := db.PurgeOldRuns(runsPurge)
		if err != nil {
			return fmt.Errorf("purge runs: %w", err)
		}
		if deleted > 0 {
			fmt.Printf("Purged %d run(s) older than %s.\n", deleted, runsPurge)
		}
	}

	runs, err := state.RecentRuns(db, runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	for _, r := range runs {
		statusStr := r.Status
		switch r.Status {
		case "done":
			statusStr = color.GreenString(r.Status)
		case "cancelled":
			statusStr = color.YellowString(r.Status)
		}
		fmt.Printf("%s  %-20s %-10s %-9s cost=%.4f  %s\n",
			r.ID[:8], r.GraphName, r.Mode, statusStr, r.TotalCost,
			r.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}
