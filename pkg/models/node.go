package models

import "time"

// NodeStatus represents the current state of a graph node.
type NodeStatus string

const (
	// NodeStatusPending indicates the node has unmet dependencies.
	NodeStatusPending NodeStatus = "pending"
	// NodeStatusReady indicates all dependencies are done and the node
	// can be dispatched.
	NodeStatusReady NodeStatus = "ready"
	// NodeStatusRunning indicates the node's request is in flight.
	NodeStatusRunning NodeStatus = "running"
	// NodeStatusDone indicates the node completed successfully.
	NodeStatusDone NodeStatus = "done"
	// NodeStatusFailed indicates the node's execution failed.
	NodeStatusFailed NodeStatus = "failed"
	// NodeStatusSkipped indicates the node was never dispatched because
	// an upstream dependency failed or the graph was cancelled.
	NodeStatusSkipped NodeStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusPending, NodeStatusReady, NodeStatusRunning,
		NodeStatusDone, NodeStatusFailed, NodeStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is one a node never leaves.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusDone || s == NodeStatusFailed || s == NodeStatusSkipped
}

// Node is one sub-task in a task graph.
type Node struct {
	// ID is the unique identifier for this node within its graph.
	ID string `json:"id"`
	// DependsOn lists node IDs that must complete before this node runs.
	DependsOn []string `json:"depends_on,omitempty"`
	// Optional, when true, lets the node run with a nil input slot in
	// place of a failed dependency's result instead of being skipped.
	Optional bool `json:"optional,omitempty"`
	// Status is the current state of the node.
	Status NodeStatus `json:"status"`
	// Request is the execution request bound to this node.
	Request *ExecutionRequest `json:"request"`
	// Result holds the execution result once the node is done.
	Result *ExecutionResult `json:"result,omitempty"`
	// Error contains the failure message if the node failed.
	Error string `json:"error,omitempty"`
	// SkipReason records why a node was skipped, if it was.
	SkipReason string `json:"skip_reason,omitempty"`
	// StartedAt is when the node began running, if it did.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the node reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
