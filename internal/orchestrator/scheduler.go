package orchestrator

import "sync"

// scheduler hands out ready nodes under the worker limit. Ready nodes
// are dispatched in insertion order: deterministic for testing, but
// not an execution-order guarantee to the caller.
type scheduler struct {
	mu sync.Mutex

	graph      *Graph
	maxWorkers int
	running    map[int]struct{}
}

// newScheduler creates a scheduler over the graph with the given
// concurrency limit.
func newScheduler(graph *Graph, maxWorkers int) *scheduler {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &scheduler{
		graph:      graph,
		maxWorkers: maxWorkers,
		running:    make(map[int]struct{}),
	}
}

// next returns the ready nodes that fit in the free worker slots and
// records them as running.
func (s *scheduler) next() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	free := s.maxWorkers - len(s.running)
	if free <= 0 {
		debugLog("[scheduler] no free slots: max=%d running=%d", s.maxWorkers, len(s.running))
		return nil
	}

	var batch []int
	for _, i := range s.graph.Ready() {
		if _, busy := s.running[i]; busy {
			continue
		}
		batch = append(batch, i)
		s.running[i] = struct{}{}
		if len(batch) == free {
			break
		}
	}

	if len(batch) > 0 {
		debugLog("[scheduler] dispatching %d nodes (free slots: %d)", len(batch), free)
	}
	return batch
}

// onComplete releases the node's worker slot.
func (s *scheduler) onComplete(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, i)
}

// active returns the number of running nodes.
func (s *scheduler) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
