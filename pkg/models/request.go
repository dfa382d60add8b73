package models

import "time"

// ExecutionRequest describes one unit of work to dispatch through a
// fallback chain. The payload is opaque to the executor; only the
// identity, minimum tier and deadline influence scheduling.
type ExecutionRequest struct {
	// ID is the unique identity of this logical request. Repeated calls
	// with the same ID are treated as the same attempt (idempotence).
	ID string `json:"id"`
	// Payload is the opaque work description handed to the provider.
	Payload string `json:"payload"`
	// MinTier is the lowest tier allowed to serve this request.
	MinTier Tier `json:"min_tier"`
	// Context carries caller-supplied key/value context for the provider
	// and the quality gate.
	Context map[string]string `json:"context,omitempty"`
	// Deadline, if set, bounds the whole call including every fallback
	// attempt. It is shared across the chain, not reset per provider.
	Deadline *time.Time `json:"deadline,omitempty"`
}

// Clone returns a deep copy of the request. Refinement iterations mutate
// the payload with corrective feedback and must not alias the original.
func (r *ExecutionRequest) Clone() *ExecutionRequest {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Context != nil {
		cp.Context = make(map[string]string, len(r.Context))
		for k, v := range r.Context {
			cp.Context[k] = v
		}
	}
	if r.Deadline != nil {
		d := *r.Deadline
		cp.Deadline = &d
	}
	return &cp
}

// ExecutionResult is the outcome of a successful provider invocation.
type ExecutionResult struct {
	// RequestID ties the result back to the originating request.
	RequestID string `json:"request_id"`
	// Output is the provider's output payload.
	Output string `json:"output"`
	// ProviderID identifies the provider that produced the output.
	ProviderID string `json:"provider_id"`
	// Tier is the tier of the provider that produced the output.
	Tier Tier `json:"tier"`
	// Cost is the cost incurred by this invocation.
	Cost float64 `json:"cost"`
	// Latency is how long the provider call took.
	Latency time.Duration `json:"latency"`
	// QualityScore is filled in by a quality gate after the fact,
	// never by the executor itself.
	QualityScore *float64 `json:"quality_score,omitempty"`
}
