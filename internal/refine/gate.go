// Package refine drives repeated execution of a task through increasing
// provider tiers until an injected quality gate passes or the iteration
// budget runs out.
package refine

import (
	"context"
	"fmt"
	"strings"

	"github.com/flumehq/flume/pkg/models"
)

// QualityGate assesses an execution output. Implementations are injected
// at construction time; the loop never reaches for a concrete assessor
// itself. Gates must be deterministic for fixed inputs so pass/fail
// tests are reproducible.
type QualityGate interface {
	// Assess scores an output and returns structured findings. The
	// score is on the same scale as the loop's threshold.
	Assess(ctx context.Context, output string, reqContext map[string]string) (float64, []models.Finding, error)
}

// GateFunc adapts a function to the QualityGate interface.
type GateFunc func(ctx context.Context, output string, reqContext map[string]string) (float64, []models.Finding, error)

// Assess implements QualityGate.
func (f GateFunc) Assess(ctx context.Context, output string, reqContext map[string]string) (float64, []models.Finding, error) {
	return f(ctx, output, reqContext)
}

// FeedbackComposer regenerates a request for the next escalation,
// folding the previous attempt's findings in as corrective feedback.
type FeedbackComposer func(base *models.ExecutionRequest, findings []models.Finding) *models.ExecutionRequest

// DefaultFeedback appends the findings to the base payload as a
// correction block. The base request is never mutated.
func DefaultFeedback(base *models.ExecutionRequest, findings []models.Finding) *models.ExecutionRequest {
	next := base.Clone()
	if len(findings) == 0 {
		return next
	}

	var sb strings.Builder
	sb.WriteString(base.Payload)
	sb.WriteString("\n\nAddress the following issues from the previous attempt:\n")
	for _, f := range findings {
		fmt.Fprintf(&sb, "- [%s/%s] %s\n", f.Category, f.Severity, f.Message)
	}
	next.Payload = sb.String()
	return next
}
