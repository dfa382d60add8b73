package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/flumehq/flume/internal/config"
	"github.com/flumehq/flume/internal/executor"
	"github.com/flumehq/flume/internal/graphfile"
	"github.com/flumehq/flume/internal/orchestrator"
	"github.com/flumehq/flume/internal/provider"
	"github.com/flumehq/flume/internal/refine"
	"github.com/flumehq/flume/internal/state"
	"github.com/flumehq/flume/pkg/events"
	"github.com/flumehq/flume/pkg/models"
)

var (
	runMode     string
	runWorkers  int
	runVerbose  bool
	runDebugLog string
	runEventLog string
)

var runCmd = &cobra.Command{
	Use:   "run <graph.yaml>",
	Short: "Execute a task graph",
	Long: `Execute a task graph defined in a YAML file.

Each node's payload is dispatched through a fallback chain of providers
with circuit breaking, rate limiting and retry. Node failures skip
their dependents but never abort sibling branches.

Execution modes (--mode, or "mode:" in the graph file):
  sequential: one node at a time in dependency order
  parallel:   every ready node at once, up to --workers
  adaptive:   parallel with a pre-flight dependency-cycle check
  iterative:  gate terminal outputs and escalate weak results to
              higher tiers until they pass or the budget runs out`,
	Args: cobra.ExactArgs(1),
	RunE: runGraph,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "Execution mode: sequential, parallel, adaptive, or iterative")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Max concurrent nodes (default from config)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print per-attempt events")
	runCmd.Flags().StringVar(&runDebugLog, "debug-log", "", "Write scheduler debug output to this file")
	runCmd.Flags().StringVar(&runEventLog, "events-log", "", "Append every emitted event to this file")
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	file, err := graphfile.Load(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	return executeGraph(ctx, cfg, file)
}

// executeGraph wires a registry, executor and orchestrator for one graph
// and prints the outcome. Shared by run and watch.
func executeGraph(ctx context.Context, cfg *config.Config, file *graphfile.File) error {
	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	defer reg.Teardown()

	mode := resolveMode(cfg, file)
	graph := orchestrator.NewGraph()
	if err := graph.Build(file.BuildNodes(time.Now())); err != nil {
		return fmt.Errorf("build graph: %w", err)
	}

	sinks := events.MultiSink{newConsoleSink(runVerbose)}

	if runEventLog != "" {
		f, err := os.OpenFile(runEventLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open events log: %w", err)
		}
		defer f.Close()
		sinks = append(sinks, events.NewLogSink(f))
	}

	var mirror *state.Mirror
	if cfg.State.Enabled {
		db, err := state.Open(cfg.StatePath())
		if err != nil {
			return fmt.Errorf("open state db: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate state db: %w", err)
		}

		mirror = state.NewMirror(db, uuid.New().String())
		if err := mirror.StartRun(file.Name, string(mode), time.Now()); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		sinks = append(sinks, mirror)
	}

	exec := executor.New(reg, executorConfig(cfg), sinks)
	if mirror != nil {
		exec.Ledger().SetMirror(mirror.CostMirror())
	}

	chains := provider.NewRegistryChains(reg, cfg.Executor.CrossTier)

	ocfg := orchestrator.Config{
		Mode:             mode,
		MaxWorkers:       cfg.Orchestrator.MaxWorkers,
		QualityThreshold: cfg.Refinement.QualityThreshold,
		MaxIterations:    cfg.Refinement.MaxIterations,
	}
	if runWorkers > 0 {
		ocfg.MaxWorkers = runWorkers
	}
	ladder, err := cfg.Refinement.TierLadder()
	if err != nil {
		return err
	}
	ocfg.Tiers = ladder

	opts := []orchestrator.Option{orchestrator.WithSink(sinks)}
	if runDebugLog != "" {
		dl, err := orchestrator.NewDebugLogger(runDebugLog)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer dl.Close()
		opts = append(opts, orchestrator.WithLogger(dl))
	}
	if mode == orchestrator.ModeIterative {
		opts = append(opts, orchestrator.WithQualityGate(coverageGate(cfg.Refinement.QualityThreshold)))
	}

	orch, err := orchestrator.New(graph, exec, chains, ocfg, opts...)
	if err != nil {
		return err
	}

	results, runErr := orch.Run(ctx)

	if mirror != nil {
		for _, n := range results {
			mirror.RecordNode(n)
		}
		status := "done"
		if runErr != nil {
			status = "cancelled"
		}
		mirror.FinishRun(status, exec.Ledger().Total())
	}

	printSummary(file.Name, results, exec.Ledger())
	return runErr
}

// resolveMode picks the execution mode: flag beats graph file beats config.
func resolveMode(cfg *config.Config, file *graphfile.File) orchestrator.Mode {
	if runMode != "" {
		return orchestrator.Mode(runMode)
	}
	if file.Mode != "" {
		return orchestrator.Mode(file.Mode)
	}
	return orchestrator.Mode(cfg.Orchestrator.Mode)
}

// buildRegistry constructs providers from configuration and freezes the
// registry before any execution starts.
func buildRegistry(cfg *config.Config) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	for _, pc := range cfg.Providers {
		desc := provider.Descriptor{
			ID:          pc.ID,
			Tier:        models.Tier(pc.Tier),
			CostPerUnit: pc.CostPerUnit,
		}

		var (
			p   provider.CapabilityProvider
			err error
		)
		switch pc.Kind {
		case "static":
			p = provider.NewStaticProvider(desc, 0)
		case "anthropic":
			p, err = provider.NewAnthropicProvider(desc, provider.AnthropicConfig{
				Model:         pc.Model,
				APIKey:        cfg.Anthropic.APIKey,
				MaxTokens:     int64(pc.MaxTokens),
				UseAWSBedrock: cfg.Anthropic.UseBedrock,
				AWSRegion:     cfg.Anthropic.AWSRegion,
				AWSProfile:    cfg.Anthropic.AWSProfile,
			})
		default:
			err = fmt.Errorf("provider %s: unknown kind %q", pc.ID, pc.Kind)
		}
		if err != nil {
			return nil, err
		}

		if err := reg.Register(p, desc); err != nil {
			return nil, err
		}
	}

	reg.Freeze()
	return reg, nil
}

// executorConfig maps loaded configuration onto the executor's tuning.
func executorConfig(cfg *config.Config) executor.Config {
	return executor.Config{
		FailureThreshold:   cfg.Executor.FailureThreshold,
		OpenTimeout:        cfg.Executor.OpenTimeout,
		RetryBudget:        cfg.Executor.RetryBudget,
		BackoffBase:        cfg.Executor.BackoffBase,
		BackoffMax:         cfg.Executor.BackoffMax,
		BucketCapacity:     cfg.Executor.BucketCapacity,
		BucketRefillPerSec: cfg.Executor.BucketRefillPerSec,
	}
}

// coverageGate is the built-in quality gate: it scores outputs on length
// and structure relative to the threshold scale. Real deployments plug
// richer gates in through the library API.
func coverageGate(threshold float64) refine.QualityGate {
	return refine.GateFunc(func(ctx context.Context, output string, _ map[string]string) (float64, []models.Finding, error) {
		if output == "" {
			return 0, []models.Finding{{
				Category: "coverage",
				Message:  "empty output",
				Severity: models.SeverityError,
			}}, nil
		}
		// Crude but deterministic: short outputs score below the
		// threshold, substantive ones above it.
		score := float64(len(output)) / 400.0
		if score > 1.0 {
			score = 1.0
		}
		var findings []models.Finding
		if score < threshold {
			findings = append(findings, models.Finding{
				Category: "coverage",
				Message:  fmt.Sprintf("output too thin (%d chars)", len(output)),
				Severity: models.SeverityWarning,
			})
		}
		return score, findings, nil
	})
}

// printSummary renders the per-node outcome table and totals.
func printSummary(name string, results orchestrator.Results, ledger *executor.CostLedger) {
	fmt.Printf("\n%s %s\n", color.CyanString("Graph:"), name)

	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	counts := make(map[models.NodeStatus]int)
	for _, id := range ids {
		n := results[id]
		counts[n.Status]++

		switch n.Status {
		case models.NodeStatusDone:
			line := fmt.Sprintf("%s %s", color.GreenString("✓"), id)
			if n.Result != nil {
				line += color.New(color.Faint).Sprintf("  (%s, %.4f)", n.Result.ProviderID, n.Result.Cost)
			}
			fmt.Println(line)
		case models.NodeStatusFailed:
			fmt.Printf("%s %s  %s\n", color.RedString("✗"), id, n.Error)
		case models.NodeStatusSkipped:
			fmt.Printf("%s %s  %s\n", color.YellowString("⊘"), id, n.SkipReason)
		default:
			fmt.Printf("%s %s  (%s)\n", color.YellowString("?"), id, n.Status)
		}
	}

	fmt.Printf("\n%d done, %d failed, %d skipped, total cost %.4f\n",
		counts[models.NodeStatusDone],
		counts[models.NodeStatusFailed],
		counts[models.NodeStatusSkipped],
		ledger.Total())
}
