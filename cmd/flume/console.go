package main

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/flumehq/flume/pkg/events"
)

// consoleSink prints execution events as they happen. Node transitions
// always print; per-attempt detail only with --verbose.
type consoleSink struct {
	verbose bool
}

func newConsoleSink(verbose bool) *consoleSink {
	return &consoleSink{verbose: verbose}
}

// Emit implements events.Sink.
func (s *consoleSink) Emit(e events.Event) {
	switch e.Type {
	case events.EventNodeStatusChanged:
		status, _ := e.Metadata["status"].(string)
		switch status {
		case "running":
			fmt.Printf("%s %s\n", color.CyanString("▸"), e.NodeID)
		case "done":
			fmt.Printf("%s %s  %s\n", color.GreenString("✓"), e.NodeID, e.Message)
		case "failed":
			fmt.Printf("%s %s  %s\n", color.RedString("✗"), e.NodeID, e.Message)
		case "skipped":
			fmt.Printf("%s %s  %s\n", color.YellowString("⊘"), e.NodeID, e.Message)
		}
	case events.EventRefinementScored:
		fmt.Printf("%s %s scored %.2f\n", color.CyanString("≈"), e.NodeID, e.Metadata["score"])
	case events.EventRefinementEscalated:
		fmt.Printf("%s %s\n", color.MagentaString("↑"), e.Message)
	case events.EventAttemptStarted, events.EventAttemptSucceeded:
		if s.verbose {
			fmt.Printf("  %s %s %s\n", color.New(color.Faint).Sprint(e.Type), e.Provider, e.RequestID)
		}
	case events.EventAttemptFailed:
		if s.verbose {
			fmt.Printf("  %s %s: %v\n", color.RedString(string(e.Type)), e.Provider, e.Err)
		}
	case events.EventProviderSkipped:
		if s.verbose {
			fmt.Printf("  %s %s: %s\n", color.YellowString("skip"), e.Provider, e.Message)
		}
	case events.EventCircuitStateChanged:
		if s.verbose {
			fmt.Printf("  %s %s: %s\n", color.YellowString("circuit"), e.Provider, e.Message)
		}
	}
}
