package graphfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flumehq/flume/pkg/models"
)

const sampleGraph = `
name: research-brief
mode: adaptive
nodes:
  - id: gather
    payload: "Collect sources on the topic"
    min_tier: economy
  - id: outline
    payload: "Outline the brief"
    depends_on: [gather]
    timeout: 30s
    context:
      style: terse
  - id: draft
    payload: "Write the brief"
    depends_on: [gather, outline]
    min_tier: standard
  - id: polish
    payload: "Polish wording"
    depends_on: [draft]
    optional: true
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleGraph))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if f.Name != "research-brief" || f.Mode != "adaptive" {
		t.Errorf("header = %q/%q", f.Name, f.Mode)
	}
	if len(f.Nodes) != 4 {
		t.Fatalf("nodes = %d, want 4", len(f.Nodes))
	}
	if got := f.Nodes[1].Timeout; time.Duration(got) != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", time.Duration(got))
	}
	if f.Nodes[1].Context["style"] != "terse" {
		t.Errorf("context = %v", f.Nodes[1].Context)
	}
	if !f.Nodes[3].Optional {
		t.Error("polish should be optional")
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no nodes", "name: empty\nnodes: []\n"},
		{"empty id", "nodes:\n  - {id: \"\", payload: x}\n"},
		{"missing payload", "nodes:\n  - {id: a}\n"},
		{"unknown tier", "nodes:\n  - {id: a, payload: x, min_tier: platinum}\n"},
		{"bad duration", "nodes:\n  - {id: a, payload: x, timeout: soon}\n"},
		{"unknown field", "nodes:\n  - {id: a, payload: x, retries: 3}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestBuildNodes(t *testing.T) {
	f, err := Parse([]byte(sampleGraph))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nodes := f.BuildNodes(now)
	if len(nodes) != 4 {
		t.Fatalf("nodes = %d, want 4", len(nodes))
	}

	outline := nodes[1]
	if outline.Request.Deadline == nil || !outline.Request.Deadline.Equal(now.Add(30*time.Second)) {
		t.Errorf("deadline = %v", outline.Request.Deadline)
	}
	if nodes[0].Request.Deadline != nil {
		t.Error("nodes without timeout must have no deadline")
	}

	draft := nodes[2]
	if draft.Request.MinTier != models.TierStandard {
		t.Errorf("min tier = %q", draft.Request.MinTier)
	}
	if len(draft.DependsOn) != 2 {
		t.Errorf("depends_on = %v", draft.DependsOn)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	if err := os.WriteFile(path, []byte(sampleGraph), 0600); err != nil {
		t.Fatalf("writing graph file: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if f.Name != "research-brief" {
		t.Errorf("name = %q", f.Name)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
