package refine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flumehq/flume/internal/executor"
	"github.com/flumehq/flume/internal/provider"
	"github.com/flumehq/flume/pkg/events"
	"github.com/flumehq/flume/pkg/models"
)

// Outcome is the result of one refinement session. Exhausting the
// budget without passing is not an error: callers check Passed and take
// the best attempt if they accept best-effort output.
type Outcome struct {
	// Attempts lists every attempt in order.
	Attempts []models.RefinementAttempt
	// Passed is true if the final attempt met the threshold.
	Passed bool
	// Best points at the highest-scoring attempt.
	Best *models.RefinementAttempt
}

// BoundedFailure reports whether the session exhausted its budget
// without passing the gate.
func (o *Outcome) BoundedFailure() bool {
	return o != nil && !o.Passed
}

// Loop escalates a task through provider tiers until the quality gate
// passes. Escalation is monotonic per session: a session never retries
// a lower tier after escalating, even if the higher tier fails
// transiently; transient failures belong to the executor's own
// fallback chain at that tier.
type Loop struct {
	exec      *executor.ResilientExecutor
	chains    provider.ChainSource
	threshold float64
	compose   FeedbackComposer
	sink      events.Sink
}

// NewLoop creates a refinement loop. The threshold is on the gate's
// score scale. A nil composer uses DefaultFeedback; a nil sink discards
// events.
func NewLoop(exec *executor.ResilientExecutor, chains provider.ChainSource, threshold float64, compose FeedbackComposer, sink events.Sink) *Loop {
	if compose == nil {
		compose = DefaultFeedback
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Loop{
		exec:      exec,
		chains:    chains,
		threshold: threshold,
		compose:   compose,
		sink:      sink,
	}
}

// Threshold returns the passing score.
func (l *Loop) Threshold() float64 {
	return l.threshold
}

// Refine executes the task, starting at the lowest permitted tier and
// escalating through the tier ladder after each failed assessment,
// bounded by maxIterations. Cancelling ctx aborts the session after the
// current in-flight attempt completes; provider calls are never killed
// mid-flight.
func (l *Loop) Refine(
	ctx context.Context,
	task *models.ExecutionRequest,
	tiers []models.Tier,
	gate QualityGate,
	maxIterations int,
) (*Outcome, error) {
	if task == nil {
		return nil, fmt.Errorf("refine: nil task")
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("refine: empty tier ladder")
	}
	if gate == nil {
		return nil, fmt.Errorf("refine: nil quality gate")
	}
	if maxIterations < 1 {
		maxIterations = 1
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Rank() <= tiers[i-1].Rank() {
			return nil, fmt.Errorf("refine: tier ladder not ascending at %q", tiers[i])
		}
	}

	outcome := &Outcome{}
	req := task.Clone()
	tierIdx := 0

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			l.emitDone(task.ID, outcome)
			return outcome, err
		}

		tier := tiers[tierIdx]
		req.MinTier = tier
		// Each iteration is a fresh logical attempt.
		req.ID = uuid.New().String()

		chain, err := l.chains.ChainFor(tier)
		if err != nil {
			return outcome, fmt.Errorf("refine: resolve chain for %s: %w", tier, err)
		}

		// The provider call finishes even if the session is cancelled;
		// cancellation is honored between attempts.
		res, execErr := l.exec.Execute(context.WithoutCancel(ctx), req, chain)

		attempt := models.RefinementAttempt{
			Iteration:   iteration,
			Tier:        tier,
			CompletedAt: time.Now(),
		}

		if execErr != nil {
			attempt.Findings = []models.Finding{{
				Category: "execution",
				Message:  execErr.Error(),
				Severity: models.SeverityError,
			}}
			if l.recordMiss(outcome, &attempt, &tierIdx, tiers, iteration, maxIterations, task.ID) {
				continue
			}
			if !l.anyExecuted(outcome) {
				// Nothing ever executed; surface the provider-layer error.
				return outcome, execErr
			}
			l.emitDone(task.ID, outcome)
			return outcome, nil
		}

		score, findings, err := gate.Assess(ctx, res.Output, req.Context)
		if err != nil {
			return outcome, fmt.Errorf("refine: quality gate: %w", err)
		}
		res.QualityScore = &score
		attempt.Score = score
		attempt.Findings = findings
		attempt.Result = res

		l.sink.Emit(events.Stamp(events.Event{
			Type:      events.EventRefinementScored,
			RequestID: task.ID,
			Provider:  res.ProviderID,
			Tier:      tier,
			Metadata:  map[string]interface{}{"iteration": iteration, "score": score},
		}))

		if score >= l.threshold {
			attempt.Decision = models.DecisionAccept
			l.push(outcome, &attempt)
			outcome.Passed = true
			l.emitDone(task.ID, outcome)
			return outcome, nil
		}

		if l.recordMiss(outcome, &attempt, &tierIdx, tiers, iteration, maxIterations, task.ID) {
			req = l.compose(task, findings)
			continue
		}

		l.emitDone(task.ID, outcome)
		return outcome, nil
	}

	l.emitDone(task.ID, outcome)
	return outcome, nil
}

// recordMiss records a below-threshold attempt and decides whether the
// session can continue. It returns true when escalation happened and
// the caller should run another iteration.
func (l *Loop) recordMiss(
	outcome *Outcome,
	attempt *models.RefinementAttempt,
	tierIdx *int,
	tiers []models.Tier,
	iteration, maxIterations int,
	taskID string,
) bool {
	canEscalate := *tierIdx+1 < len(tiers) && iteration < maxIterations

	if canEscalate {
		attempt.Decision = models.DecisionEscalate
		l.push(outcome, attempt)
		*tierIdx++
		l.sink.Emit(events.Stamp(events.Event{
			Type:      events.EventRefinementEscalated,
			RequestID: taskID,
			Tier:      tiers[*tierIdx],
			Message:   fmt.Sprintf("escalating to %s after iteration %d", tiers[*tierIdx], iteration),
			Metadata:  map[string]interface{}{"iteration": iteration},
		}))
		return true
	}

	attempt.Decision = models.DecisionAbandon
	l.push(outcome, attempt)
	return false
}

// anyExecuted reports whether any attempt produced an execution result.
func (l *Loop) anyExecuted(outcome *Outcome) bool {
	for _, a := range outcome.Attempts {
		if a.Result != nil {
			return true
		}
	}
	return false
}

// push appends an attempt and keeps Best pointing at the top scorer.
// Best is recomputed because append can move the backing array.
func (l *Loop) push(outcome *Outcome, attempt *models.RefinementAttempt) {
	outcome.Attempts = append(outcome.Attempts, *attempt)
	outcome.Best = nil
	for i := range outcome.Attempts {
		if outcome.Best == nil || outcome.Attempts[i].Score > outcome.Best.Score {
			outcome.Best = &outcome.Attempts[i]
		}
	}
}

// emitDone emits the session-end event.
func (l *Loop) emitDone(taskID string, outcome *Outcome) {
	meta := map[string]interface{}{
		"passed":   outcome.Passed,
		"attempts": len(outcome.Attempts),
	}
	if outcome.Best != nil {
		meta["best_score"] = outcome.Best.Score
		meta["best_tier"] = string(outcome.Best.Tier)
	}
	l.sink.Emit(events.Stamp(events.Event{
		Type:      events.EventRefinementDone,
		RequestID: taskID,
		Metadata:  meta,
	}))
}
