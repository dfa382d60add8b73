package state

import (
	"time"

	"github.com/flumehq/flume/pkg/events"
	"github.com/flumehq/flume/pkg/models"
)

// Mirror persists one run's activity. It implements events.Sink and
// plugs into the cost ledger; every write is best-effort and errors are
// swallowed so persistence problems never disturb execution.
type Mirror struct {
	db    *DB
	runID string
}

// NewMirror creates a mirror scoped to one run.
func NewMirror(db *DB, runID string) *Mirror {
	return &Mirror{db: db, runID: runID}
}

// RunID returns the run this mirror records under.
func (m *Mirror) RunID() string {
	return m.runID
}

// StartRun records the run header.
func (m *Mirror) StartRun(graphName, mode string, startedAt time.Time) error {
	_, err := m.db.Exec(`
		INSERT INTO runs (id, graph_name, mode, started_at, status)
		VALUES (?, ?, ?, ?, 'running')
	`, m.runID, graphName, mode, formatTime(startedAt))
	return err
}

// FinishRun closes out the run header.
func (m *Mirror) FinishRun(status string, totalCost float64) error {
	_, err := m.db.Exec(`
		UPDATE runs SET status = ?, total_cost = ?, finished_at = ? WHERE id = ?
	`, status, totalCost, formatTime(time.Now()), m.runID)
	return err
}

// RecordNode upserts one node's final state.
func (m *Mirror) RecordNode(n *models.Node) error {
	var providerID, tier string
	var score *float64
	if n.Result != nil {
		providerID = n.Result.ProviderID
		tier = string(n.Result.Tier)
		score = n.Result.QualityScore
	}

	var completedAt any
	if n.CompletedAt != nil {
		completedAt = formatTime(*n.CompletedAt)
	}

	_, err := m.db.Exec(`
		INSERT INTO node_results (run_id, node_id, status, provider_id, tier, quality_score, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, node_id) DO UPDATE SET
			status = excluded.status,
			provider_id = excluded.provider_id,
			tier = excluded.tier,
			quality_score = excluded.quality_score,
			error = excluded.error,
			completed_at = excluded.completed_at
	`, m.runID, n.ID, string(n.Status), providerID, tier, score, n.Error, completedAt)
	return err
}

// Emit implements events.Sink.
func (m *Mirror) Emit(e events.Event) {
	var errText string
	if e.Err != nil {
		errText = e.Err.Error()
	}
	// Best effort; the core never waits on the mirror's health.
	m.db.Exec(`
		INSERT INTO events (run_id, type, provider_id, node_id, request_id, tier, message, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.runID, string(e.Type), e.Provider, e.NodeID, e.RequestID, string(e.Tier), e.Message, errText, formatTime(e.Timestamp))
}

// CostMirror returns the callback the cost ledger calls per increment.
func (m *Mirror) CostMirror() func(providerID string, cost float64) {
	return func(providerID string, cost float64) {
		m.db.Exec(`
			INSERT INTO cost_entries (run_id, provider_id, cost, recorded_at)
			VALUES (?, ?, ?, ?)
		`, m.runID, providerID, cost, formatTime(time.Now()))
	}
}

// RunSummary is one row from the runs table.
type RunSummary struct {
	ID         string
	GraphName  string
	Mode       string
	Status     string
	TotalCost  float64
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RecentRuns lists the most recent runs, newest first.
func RecentRuns(db *DB, limit int) ([]RunSummary, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := db.Query(`
		SELECT id, graph_name, mode, status, total_cost, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var started string
		var finished *string
		if err := rows.Scan(&r.ID, &r.GraphName, &r.Mode, &r.Status, &r.TotalCost, &started, &finished); err != nil {
			return nil, err
		}
		if t, err := parseTime(started); err == nil {
			r.StartedAt = t
		}
		if finished != nil {
			if t, err := parseTime(*finished); err == nil {
				r.FinishedAt = &t
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
