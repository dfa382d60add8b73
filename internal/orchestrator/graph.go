// Package orchestrator schedules directed acyclic graphs of sub-tasks
// over a resilient executor, under one of four execution modes.
package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flumehq/flume/pkg/models"
)

// DeadlockError indicates the graph contains a dependency cycle. It is
// raised before any node is dispatched; no partial execution occurs.
type DeadlockError struct {
	// Cycle lists node IDs forming the cycle, in edge order.
	Cycle []string
}

// Error implements the error interface.
func (e *DeadlockError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Graph is a task dependency graph. Nodes live in a flat arena and
// edges are index pairs; IDs are resolved to indices once at build time.
// Build validates acyclicity as a precondition, so cycles are never
// discovered by runtime deadlock.
type Graph struct {
	mu sync.RWMutex

	// nodes is the arena; insertion order is the deterministic
	// tie-break for dispatch.
	nodes []*models.Node
	// index maps node ID to arena index.
	index map[string]int
	// deps[i] lists arena indices node i depends on.
	deps [][]int
	// dependents[i] lists arena indices that depend on node i.
	dependents [][]int
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{index: make(map[string]int)}
}

// Build registers the nodes and their edges, validates that every
// dependency resolves, and checks for cycles. Nodes start pending.
func (g *Graph) Build(nodes []*models.Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.nodes) > 0 {
		return fmt.Errorf("graph already built")
	}

	// First pass: place every node in the arena.
	for _, n := range nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if _, dup := g.index[n.ID]; dup {
			return fmt.Errorf("duplicate node id %s", n.ID)
		}
		if n.Request == nil {
			return fmt.Errorf("node %s has no execution request", n.ID)
		}
		n.Status = models.NodeStatusPending
		g.index[n.ID] = len(g.nodes)
		g.nodes = append(g.nodes, n)
	}

	// Second pass: resolve edges to index pairs.
	g.deps = make([][]int, len(g.nodes))
	g.dependents = make([][]int, len(g.nodes))
	for i, n := range g.nodes {
		for _, depID := range n.DependsOn {
			j, ok := g.index[depID]
			if !ok {
				return fmt.Errorf("node %s depends on unknown node %s", n.ID, depID)
			}
			if j == i {
				return &DeadlockError{Cycle: []string{n.ID, n.ID}}
			}
			g.deps[i] = append(g.deps[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
	}

	if cycle := g.findCycleLocked(); cycle != nil {
		return &DeadlockError{Cycle: cycle}
	}
	return nil
}

// CycleCheck re-asserts acyclicity. Adaptive mode runs it pre-flight and
// fails fast with a DeadlockError before dispatching anything.
func (g *Graph) CycleCheck() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if cycle := g.findCycleLocked(); cycle != nil {
		return &DeadlockError{Cycle: cycle}
	}
	return nil
}

// findCycleLocked runs DFS coloring over the arena and returns the IDs
// of a cycle, or nil. Caller must hold the lock.
func (g *Graph) findCycleLocked() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // in progress
		black = 2 // done
	)
	colors := make([]int, len(g.nodes))
	var stack []int

	var visit func(i int) []string
	visit = func(i int) []string {
		colors[i] = gray
		stack = append(stack, i)

		for _, j := range g.deps[i] {
			switch colors[j] {
			case gray:
				// Back edge: slice the cycle out of the stack.
				var cycle []string
				for k := len(stack) - 1; k >= 0; k-- {
					cycle = append([]string{g.nodes[stack[k]].ID}, cycle...)
					if stack[k] == j {
						break
					}
				}
				return append(cycle, g.nodes[j].ID)
			case white:
				if c := visit(j); c != nil {
					return c
				}
			}
		}

		colors[i] = black
		stack = stack[:len(stack)-1]
		return nil
	}

	for i := range g.nodes {
		if colors[i] == white {
			if c := visit(i); c != nil {
				return c
			}
		}
	}
	return nil
}

// TopologicalOrder returns arena indices with every dependency before
// its dependents, using insertion order as the deterministic tie-break
// (Kahn's algorithm over the arena).
func (g *Graph) TopologicalOrder() ([]int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if cycle := g.findCycleLocked(); cycle != nil {
		return nil, &DeadlockError{Cycle: cycle}
	}

	indegree := make([]int, len(g.nodes))
	for i := range g.nodes {
		indegree[i] = len(g.deps[i])
	}

	done := make([]bool, len(g.nodes))
	order := make([]int, 0, len(g.nodes))
	for len(order) < len(g.nodes) {
		for i := range g.nodes {
			if !done[i] && indegree[i] == 0 {
				done[i] = true
				order = append(order, i)
				for _, j := range g.dependents[i] {
					indegree[j]--
				}
			}
		}
	}
	return order, nil
}

// Ready returns the arena indices of pending nodes whose dependencies
// are satisfied, in insertion order. A dependency is satisfied when it
// is done, or when it is failed/skipped and the dependent is optional.
func (g *Graph) Ready() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []int
	for i, n := range g.nodes {
		if n.Status != models.NodeStatusPending {
			continue
		}
		if g.depsSatisfiedLocked(i) {
			ready = append(ready, i)
		}
	}
	return ready
}

// depsSatisfied reports whether node i's dependencies allow it to run.
func (g *Graph) depsSatisfied(i int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.depsSatisfiedLocked(i)
}

// depsSatisfiedLocked reports whether node i can run. Caller holds lock.
func (g *Graph) depsSatisfiedLocked(i int) bool {
	for _, j := range g.deps[i] {
		switch g.nodes[j].Status {
		case models.NodeStatusDone:
		case models.NodeStatusFailed, models.NodeStatusSkipped:
			if !g.nodes[i].Optional {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Inputs returns the dependency results for node i in edge order. A
// failed or skipped dependency of an optional node contributes nil.
func (g *Graph) Inputs(i int) []*models.ExecutionResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inputs := make([]*models.ExecutionResult, len(g.deps[i]))
	for k, j := range g.deps[i] {
		if g.nodes[j].Status == models.NodeStatusDone {
			inputs[k] = g.nodes[j].Result
		}
	}
	return inputs
}

// SkipDependents cascades a skip through everything downstream of node
// i, leaving optional dependents pending so they can run with a nil
// input slot.
func (g *Graph) SkipDependents(i int, reason string) []int {
	g.mu.Lock()
	defer g.mu.Unlock()

	var skipped []int
	var walk func(int)
	walk = func(idx int) {
		for _, j := range g.dependents[idx] {
			n := g.nodes[j]
			if n.Status != models.NodeStatusPending || n.Optional {
				continue
			}
			n.Status = models.NodeStatusSkipped
			n.SkipReason = reason
			skipped = append(skipped, j)
			walk(j)
		}
	}
	walk(i)
	return skipped
}

// mark transitions node i under the graph lock so concurrent readiness
// scans always see a consistent view, and stamps the relevant timestamp.
func (g *Graph) mark(i int, status models.NodeStatus, errMsg string) *models.Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.nodes[i]
	n.Status = status
	now := time.Now()
	switch status {
	case models.NodeStatusRunning:
		n.StartedAt = &now
	case models.NodeStatusDone, models.NodeStatusFailed, models.NodeStatusSkipped:
		n.CompletedAt = &now
	}
	if errMsg != "" {
		n.Error = errMsg
	}
	return n
}

// ResetForRerun moves a terminal node back to pending so the next
// scheduling pass picks it up again. The previous result stays attached
// until a fresh execution replaces it.
func (g *Graph) ResetForRerun(i int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.nodes[i]
	n.Status = models.NodeStatusPending
	n.Error = ""
	n.SkipReason = ""
	n.StartedAt = nil
	n.CompletedAt = nil
}

// SkipAllPending marks every pending node skipped, regardless of
// dependency edges, and returns their indices. Used on cancellation.
func (g *Graph) SkipAllPending(reason string) []int {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []int
	for i, n := range g.nodes {
		if n.Status == models.NodeStatusPending {
			n.Status = models.NodeStatusSkipped
			n.SkipReason = reason
			out = append(out, i)
		}
	}
	return out
}

// Terminals returns the arena indices of nodes nothing depends on.
func (g *Graph) Terminals() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []int
	for i := range g.nodes {
		if len(g.dependents[i]) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// Node returns the node at arena index i.
func (g *Graph) Node(i int) *models.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[i]
}

// IndexOf returns the arena index for a node ID.
func (g *Graph) IndexOf(id string) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[id]
	return i, ok
}

// Dependents returns the arena indices depending on node i.
func (g *Graph) Dependents(i int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]int, len(g.dependents[i]))
	copy(out, g.dependents[i])
	return out
}

// Dependencies returns the arena indices node i depends on.
func (g *Graph) Dependencies(i int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]int, len(g.deps[i]))
	copy(out, g.deps[i])
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Nodes returns the arena in insertion order.
func (g *Graph) Nodes() []*models.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*models.Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}
