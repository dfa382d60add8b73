package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flumehq/flume/internal/executor"
	"github.com/flumehq/flume/internal/provider"
	"github.com/flumehq/flume/internal/refine"
	"github.com/flumehq/flume/pkg/events"
	"github.com/flumehq/flume/pkg/models"
)

var (
	refineThreshold  float64
	refineIterations int
)

var refineCmd = &cobra.Command{
	Use:   "refine <payload>",
	Short: "Run a single task through the tier-escalation loop",
	Long: `Execute one task repeatedly, starting at the lowest configured tier
and escalating to higher tiers while the quality gate scores the output
below the threshold. Stops on the first pass, at the top of the tier
ladder, or when the iteration budget runs out.

A run that never passes still prints its best attempt; that is a normal
outcome, not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runRefine,
}

func init() {
	refineCmd.Flags().Float64Var(&refineThreshold, "threshold", 0, "Passing score (default from config)")
	refineCmd.Flags().IntVar(&refineIterations, "max-iterations", 0, "Iteration budget (default from config)")
	rootCmd.AddCommand(refineCmd)
}

func runRefine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	defer reg.Teardown()

	threshold := cfg.Refinement.QualityThreshold
	if refineThreshold > 0 {
		threshold = refineThreshold
	}
	maxIterations := cfg.Refinement.MaxIterations
	if refineIterations > 0 {
		maxIterations = refineIterations
	}
	ladder, err := cfg.Refinement.TierLadder()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, finishing current attempt...")
		cancel()
	}()

	sink := events.MultiSink{newConsoleSink(runVerbose)}
	exec := executor.New(reg, executorConfig(cfg), sink)
	chains := provider.NewRegistryChains(reg, cfg.Executor.CrossTier)

	loop := refine.NewLoop(exec, chains, threshold, nil, sink)
	task := &models.ExecutionRequest{Payload: args[0]}

	outcome, err := loop.Refine(ctx, task, ladder, coverageGate(threshold), maxIterations)
	if err != nil {
		return err
	}

	printOutcome(outcome, exec.Ledger())
	return nil
}

// printOutcome renders the attempt history and the best result.
func printOutcome(outcome *refine.Outcome, ledger *executor.CostLedger) {
	for _, a := range outcome.Attempts {
		marker := color.YellowString("·")
		if a.Decision == models.DecisionAccept {
			marker = color.GreenString("✓")
		}
		fmt.Printf("%s iteration %d  tier=%-9s score=%.2f  %s\n",
			marker, a.Iteration, a.Tier, a.Score, a.Decision)
	}

	if outcome.Passed {
		fmt.Printf("\n%s threshold met, total cost %.4f\n", color.GreenString("Passed:"), ledger.Total())
	} else {
		fmt.Printf("\n%s best score %.2f below threshold, total cost %.4f\n",
			color.YellowString("Bounded:"), outcome.Best.Score, ledger.Total())
	}
	if outcome.Best != nil && outcome.Best.Result != nil {
		fmt.Printf("\n%s\n", outcome.Best.Result.Output)
	}
}
