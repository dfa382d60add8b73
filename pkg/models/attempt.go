package models

import "time"

// RefinementDecision is the outcome recorded after one refinement attempt.
type RefinementDecision string

const (
	// DecisionAccept indicates the attempt passed the quality gate.
	DecisionAccept RefinementDecision = "accept"
	// DecisionEscalate indicates the attempt fell short and the session
	// moved to the next higher tier.
	DecisionEscalate RefinementDecision = "escalate"
	// DecisionAbandon indicates the budget or tier ladder was exhausted.
	DecisionAbandon RefinementDecision = "abandon"
)

// FindingSeverity classifies how serious a quality finding is.
type FindingSeverity string

const (
	// SeverityInfo is advisory only.
	SeverityInfo FindingSeverity = "info"
	// SeverityWarning should be addressed but does not block acceptance.
	SeverityWarning FindingSeverity = "warning"
	// SeverityError blocks acceptance.
	SeverityError FindingSeverity = "error"
)

// Finding is one structured observation from a quality gate.
type Finding struct {
	// Category groups related findings (e.g. "completeness").
	Category string `json:"category"`
	// Message describes what the gate observed.
	Message string `json:"message"`
	// Severity is how serious the finding is.
	Severity FindingSeverity `json:"severity"`
}

// RefinementAttempt records one iteration of the refinement loop.
// Escalation is monotonic within a session: the tier recorded here never
// decreases from one attempt to the next.
type RefinementAttempt struct {
	// Iteration is the 1-indexed attempt number within the session.
	Iteration int `json:"iteration"`
	// Tier is the tier the attempt executed at.
	Tier Tier `json:"tier"`
	// Score is the quality gate's score for the attempt's output.
	Score float64 `json:"score"`
	// Findings are the gate's structured observations.
	Findings []Finding `json:"findings,omitempty"`
	// Decision is what the loop decided after scoring.
	Decision RefinementDecision `json:"decision"`
	// Result is the execution result the score applies to.
	Result *ExecutionResult `json:"result,omitempty"`
	// CompletedAt is when the attempt finished.
	CompletedAt time.Time `json:"completed_at"`
}
