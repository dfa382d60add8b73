package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/flumehq/flume/pkg/events"
	"github.com/flumehq/flume/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "flume.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var version int
	row := db.QueryRow("SELECT MAX(version) FROM schema_version")
	if err := row.Scan(&version); err != nil {
		t.Fatalf("reading schema version: %v", err)
	}
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}
}

func TestMirrorRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	m := NewMirror(db, "run-1")

	if err := m.StartRun("research-brief", "adaptive", time.Now()); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	score := 0.92
	now := time.Now()
	node := &models.Node{
		ID:          "draft",
		Status:      models.NodeStatusDone,
		CompletedAt: &now,
		Result: &models.ExecutionResult{
			ProviderID:   "claude",
			Tier:         models.TierStandard,
			QualityScore: &score,
		},
	}
	if err := m.RecordNode(node); err != nil {
		t.Fatalf("RecordNode failed: %v", err)
	}
	// Upsert: recording again must not error or duplicate.
	node.Status = models.NodeStatusFailed
	node.Error = "late failure"
	if err := m.RecordNode(node); err != nil {
		t.Fatalf("RecordNode upsert failed: %v", err)
	}

	var count int
	var status string
	row := db.QueryRow("SELECT COUNT(*) FROM node_results WHERE run_id = 'run-1'")
	if err := row.Scan(&count); err != nil || count != 1 {
		t.Fatalf("node_results count = %d (%v), want 1", count, err)
	}
	row = db.QueryRow("SELECT status FROM node_results WHERE run_id = 'run-1' AND node_id = 'draft'")
	if err := row.Scan(&status); err != nil || status != "failed" {
		t.Fatalf("node status = %q (%v), want failed", status, err)
	}

	if err := m.FinishRun("done", 0.42); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	runs, err := RecentRuns(db, 5)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	r := runs[0]
	if r.ID != "run-1" || r.Status != "done" || r.TotalCost != 0.42 {
		t.Errorf("run = %+v", r)
	}
	if r.FinishedAt == nil {
		t.Error("finished run must carry its end time")
	}
}

func TestMirrorEventAndCostSinks(t *testing.T) {
	db := openTestDB(t)
	m := NewMirror(db, "run-2")
	if err := m.StartRun("g", "sequential", time.Now()); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	m.Emit(events.Event{
		Type:      events.EventAttemptFailed,
		Provider:  "econ",
		RequestID: "req-1",
		Err:       errors.New("boom"),
		Timestamp: time.Now(),
	})
	m.Emit(events.Event{
		Type:      events.EventAttemptSucceeded,
		Provider:  "std",
		RequestID: "req-1",
		Timestamp: time.Now(),
	})

	var count int
	row := db.QueryRow("SELECT COUNT(*) FROM events WHERE run_id = 'run-2'")
	if err := row.Scan(&count); err != nil || count != 2 {
		t.Fatalf("events = %d (%v), want 2", count, err)
	}

	var errText string
	row = db.QueryRow("SELECT error FROM events WHERE run_id = 'run-2' AND type = 'attempt_failed'")
	if err := row.Scan(&errText); err != nil || errText != "boom" {
		t.Fatalf("event error = %q (%v)", errText, err)
	}

	mirror := m.CostMirror()
	mirror("econ", 0.1)
	mirror("econ", 0.2)

	var total float64
	row = db.QueryRow("SELECT SUM(cost) FROM cost_entries WHERE run_id = 'run-2'")
	if err := row.Scan(&total); err != nil {
		t.Fatalf("summing costs: %v", err)
	}
	if total < 0.29 || total > 0.31 {
		t.Errorf("cost total = %f, want 0.3", total)
	}
}

func TestPurgeOldRuns(t *testing.T) {
	db := openTestDB(t)

	old := NewMirror(db, "old-run")
	if err := old.StartRun("g", "parallel", time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	old.CostMirror()("econ", 0.5)

	fresh := NewMirror(db, "fresh-run")
	if err := fresh.StartRun("g", "parallel", time.Now()); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	deleted, err := db.PurgeOldRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldRuns failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	var count int
	row := db.QueryRow("SELECT COUNT(*) FROM cost_entries WHERE run_id = 'old-run'")
	if err := row.Scan(&count); err != nil || count != 0 {
		t.Fatalf("orphaned cost entries = %d (%v), want 0", count, err)
	}

	runs, err := RecentRuns(db, 5)
	if err != nil || len(runs) != 1 || runs[0].ID != "fresh-run" {
		t.Fatalf("surviving runs = %+v (%v)", runs, err)
	}
}
