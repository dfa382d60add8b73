package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/flumehq/flume/internal/config"
	"github.com/flumehq/flume/internal/graphfile"
	"github.com/flumehq/flume/internal/orchestrator"
	"github.com/flumehq/flume/internal/state"
)

func TestBuildRegistryFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{
		{ID: "cheap", Kind: "static", Tier: "economy", CostPerUnit: 0.001},
		{ID: "solid", Kind: "static", Tier: "standard", CostPerUnit: 0.01},
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		t.Fatalf("buildRegistry failed: %v", err)
	}
	defer reg.Teardown()

	if !reg.Frozen() {
		t.Error("registry must be frozen after build")
	}
	if reg.Size() != 2 {
		t.Errorf("registry size = %d, want 2", reg.Size())
	}
	if _, err := reg.Get("solid"); err != nil {
		t.Errorf("missing provider: %v", err)
	}
}

func TestBuildRegistryRejectsUnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{
		{ID: "x", Kind: "quantum", Tier: "economy"},
	}
	if _, err := buildRegistry(cfg); err == nil {
		t.Fatal("expected error for unknown provider kind")
	}
}

func TestResolveModePrecedence(t *testing.T) {
	cfg := config.Default()
	cfg.Orchestrator.Mode = "sequential"
	file := &graphfile.File{Mode: "parallel"}

	runMode = ""
	if got := resolveMode(cfg, file); got != orchestrator.ModeParallel {
		t.Errorf("graph-file mode should beat config, got %s", got)
	}

	runMode = "adaptive"
	defer func() { runMode = "" }()
	if got := resolveMode(cfg, file); got != orchestrator.ModeAdaptive {
		t.Errorf("flag should beat graph file, got %s", got)
	}

	file.Mode = ""
	runMode = ""
	if got := resolveMode(cfg, file); got != orchestrator.ModeSequential {
		t.Errorf("config mode is the fallback, got %s", got)
	}
}

func TestExecuteGraphEndToEnd(t *testing.T) {
	cfg := config.Default()
	cfg.State.Enabled = true
	cfg.State.Path = filepath.Join(t.TempDir(), "state.db")

	file, err := graphfile.Parse([]byte(`
name: smoke
nodes:
  - id: a
    payload: "first"
  - id: b
    payload: "second"
    depends_on: [a]
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if err := executeGraph(context.Background(), cfg, file); err != nil {
		t.Fatalf("executeGraph failed: %v", err)
	}

	db, err := state.Open(cfg.State.Path)
	if err != nil {
		t.Fatalf("reopening state db: %v", err)
	}
	defer db.Close()

	runs, err := state.RecentRuns(db, 5)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs recorded = %d, want 1", len(runs))
	}
	if runs[0].GraphName != "smoke" || runs[0].Status != "done" {
		t.Errorf("run = %+v", runs[0])
	}

	var nodeCount int
	row := db.QueryRow("SELECT COUNT(*) FROM node_results WHERE run_id = ? AND status = 'done'", runs[0].ID)
	if err := row.Scan(&nodeCount); err != nil || nodeCount != 2 {
		t.Fatalf("done nodes = %d (%v), want 2", nodeCount, err)
	}
}
