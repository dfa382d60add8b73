// Package events defines the structured events the execution core emits
// and the sink boundary external observers plug into. Every state
// transition in the executor, the orchestrator and the refinement loop
// produces exactly one event; the core does not care what a sink does
// with them.
package events

import (
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flumehq/flume/pkg/models"
)

// Type is the kind of event.
type Type string

const (
	// EventAttemptStarted indicates a provider invocation began.
	EventAttemptStarted Type = "attempt_started"
	// EventAttemptSucceeded indicates a provider invocation returned a result.
	EventAttemptSucceeded Type = "attempt_succeeded"
	// EventAttemptFailed indicates a provider invocation failed.
	EventAttemptFailed Type = "attempt_failed"
	// EventProviderSkipped indicates a provider was passed over without a
	// call (open circuit or empty token bucket).
	EventProviderSkipped Type = "provider_skipped"
	// EventCircuitStateChanged indicates a circuit breaker transition.
	EventCircuitStateChanged Type = "circuit_state_changed"
	// EventNodeStatusChanged indicates a graph node moved between states.
	EventNodeStatusChanged Type = "node_status_changed"
	// EventGraphDone indicates a whole task graph finished.
	EventGraphDone Type = "graph_done"
	// EventRefinementScored indicates a quality gate scored an attempt.
	EventRefinementScored Type = "refinement_scored"
	// EventRefinementEscalated indicates the refinement loop moved to a
	// higher tier.
	EventRefinementEscalated Type = "refinement_escalated"
	// EventRefinementDone indicates a refinement session ended.
	EventRefinementDone Type = "refinement_done"
)

// Event is one structured observation emitted by the core.
type Event struct {
	// Type is the kind of event.
	Type Type
	// Provider identifies the related provider, if any.
	Provider string
	// NodeID identifies the related graph node, if any.
	NodeID string
	// RequestID identifies the related execution request, if any.
	RequestID string
	// Tier is the related tier, if any.
	Tier models.Tier
	// Message provides human-readable context.
	Message string
	// Err holds error details for failure events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Metadata carries event-specific values (scores, costs, states).
	Metadata map[string]interface{}
}

// Sink receives events. Implementations must be safe for concurrent use;
// Emit is called from worker goroutines and must not block for long.
type Sink interface {
	Emit(e Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// ChannelSink forwards events to a buffered channel, dropping events if
// the channel is full rather than stalling the core.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Emit implements Sink.
func (s *ChannelSink) Emit(e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// Close closes the underlying channel. Emit must not be called after Close.
func (s *ChannelSink) Close() {
	close(s.ch)
}

// LogSink writes one line per event to a writer. Useful for debug
// transcripts and tests; not a structured log.
type LogSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLogSink creates a LogSink writing to w.
func NewLogSink(w io.Writer) *LogSink {
	return &LogSink{w: w}
}

// Emit implements Sink.
func (s *LogSink) Emit(e Event) {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(string(e.Type))
	if e.Provider != "" {
		b.WriteString(" provider=" + e.Provider)
	}
	if e.NodeID != "" {
		b.WriteString(" node=" + e.NodeID)
	}
	if e.RequestID != "" {
		b.WriteString(" request=" + e.RequestID)
	}
	if e.Tier != "" {
		b.WriteString(" tier=" + string(e.Tier))
	}
	if e.Message != "" {
		b.WriteString(" msg=" + strconv.Quote(e.Message))
	}
	if e.Err != nil {
		b.WriteString(" err=" + strconv.Quote(e.Err.Error()))
	}
	b.WriteByte('\n')

	s.mu.Lock()
	s.w.Write([]byte(b.String()))
	s.mu.Unlock()
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Stamp fills in the event timestamp if unset and returns the event.
// Emitters use it so sinks always see a populated timestamp.
func Stamp(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return e
}
