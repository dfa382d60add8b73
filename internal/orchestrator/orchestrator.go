package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/flumehq/flume/internal/executor"
	"github.com/flumehq/flume/internal/provider"
	"github.com/flumehq/flume/internal/refine"
	"github.com/flumehq/flume/pkg/events"
	"github.com/flumehq/flume/pkg/models"
)

// Mode selects how the orchestrator walks the graph.
type Mode string

const (
	// ModeSequential runs nodes one at a time in topological order.
	ModeSequential Mode = "sequential"
	// ModeParallel dispatches every ready node concurrently.
	ModeParallel Mode = "parallel"
	// ModeAdaptive is parallel scheduling with an explicit pre-flight
	// cycle check that fails fast before any dispatch.
	ModeAdaptive Mode = "adaptive"
	// ModeIterative wraps the graph in a bounded refinement loop,
	// re-executing only nodes whose inputs changed.
	ModeIterative Mode = "iterative"
)

// Valid returns true if the mode is a known value.
func (m Mode) Valid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeAdaptive, ModeIterative:
		return true
	default:
		return false
	}
}

// Config tunes an orchestrator run.
type Config struct {
	// Mode is the execution mode.
	Mode Mode
	// MaxWorkers bounds concurrent node dispatch in parallel modes.
	MaxWorkers int
	// Tiers is the escalation ladder for iterative mode. Defaults to
	// the full tier order.
	Tiers []models.Tier
	// QualityThreshold is the passing score for iterative mode.
	QualityThreshold float64
	// MaxIterations bounds iterative mode's refinement passes.
	MaxIterations int
}

// Results maps node ID to its final node state after a run.
type Results map[string]*models.Node

// Orchestrator schedules one task graph over a resilient executor. It
// is created per caller request and discarded after Run returns; no
// state is shared across graphs.
type Orchestrator struct {
	graph  *Graph
	exec   *executor.ResilientExecutor
	chains provider.ChainSource
	gate   refine.QualityGate
	cfg    Config
	sink   events.Sink
	logger *DebugLogger
	sched  *scheduler
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink sets the event sink.
func WithSink(sink events.Sink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
			setPackageLogger(l)
		}
	}
}

// WithQualityGate sets the gate iterative mode assesses terminal nodes
// with. Injected at construction, never resolved at runtime.
func WithQualityGate(gate refine.QualityGate) Option {
	return func(o *Orchestrator) {
		o.gate = gate
	}
}

// New creates an orchestrator for one graph.
func New(graph *Graph, exec *executor.ResilientExecutor, chains provider.ChainSource, cfg Config, opts ...Option) (*Orchestrator, error) {
	if graph == nil || graph.Len() == 0 {
		return nil, fmt.Errorf("orchestrator: empty graph")
	}
	if exec == nil {
		return nil, fmt.Errorf("orchestrator: nil executor")
	}
	if chains == nil {
		return nil, fmt.Errorf("orchestrator: nil chain source")
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("orchestrator: unknown mode %q", cfg.Mode)
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 4
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = models.TierOrder
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 3
	}

	o := &Orchestrator{
		graph:  graph,
		exec:   exec,
		chains: chains,
		cfg:    cfg,
		sink:   events.NopSink{},
		logger: NopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.sched = newScheduler(graph, cfg.MaxWorkers)

	if cfg.Mode == ModeIterative && o.gate == nil {
		return nil, fmt.Errorf("orchestrator: iterative mode requires a quality gate")
	}
	return o, nil
}

// Run executes the graph under the configured mode and returns the
// per-node result map. Node failures do not abort sibling branches and
// are reported in the map, not as an error; the returned error is
// reserved for structural problems and cancellation.
func (o *Orchestrator) Run(ctx context.Context) (Results, error) {
	var err error
	switch o.cfg.Mode {
	case ModeSequential:
		err = o.runSequential(ctx)
	case ModeParallel:
		err = o.runConcurrent(ctx)
	case ModeAdaptive:
		// Fail fast on cycles before dispatching anything.
		if cerr := o.graph.CycleCheck(); cerr != nil {
			return nil, cerr
		}
		err = o.runConcurrent(ctx)
	case ModeIterative:
		err = o.runIterative(ctx)
	}

	results := o.results()
	o.sink.Emit(events.Stamp(events.Event{
		Type:     events.EventGraphDone,
		Metadata: o.summary(results),
	}))
	return results, err
}

// results snapshots the node map.
func (o *Orchestrator) results() Results {
	out := make(Results, o.graph.Len())
	for _, n := range o.graph.Nodes() {
		out[n.ID] = n
	}
	return out
}

// summary tallies node statuses for the graph-done event.
func (o *Orchestrator) summary(results Results) map[string]interface{} {
	counts := make(map[string]int)
	for _, n := range results {
		counts[string(n.Status)]++
	}
	meta := make(map[string]interface{}, len(counts)+1)
	for k, v := range counts {
		meta[k] = v
	}
	meta["cost"] = o.exec.Ledger().Total()
	return meta
}

// setStatus transitions a node and emits exactly one event for it.
func (o *Orchestrator) setStatus(i int, status models.NodeStatus, msg string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	n := o.graph.mark(i, status, errMsg)

	o.logger.Log("[orchestrator] node %s -> %s %s", n.ID, status, msg)
	o.sink.Emit(events.Stamp(events.Event{
		Type:    events.EventNodeStatusChanged,
		NodeID:  n.ID,
		Message: msg,
		Err:     err,
		Metadata: map[string]interface{}{
			"status": string(status),
		},
	}))
}

// nodeTier returns the tier a node's request should start at.
func nodeTier(n *models.Node) models.Tier {
	if n.Request.MinTier.Valid() {
		return n.Request.MinTier
	}
	return models.TierEconomy
}

// runNode dispatches one node through the executor. The caller has
// already moved the node to running.
func (o *Orchestrator) runNode(ctx context.Context, i int) {
	n := o.graph.Node(i)

	req := n.Request.Clone()
	req.MinTier = nodeTier(n)
	// Each dispatch is a distinct logical attempt.
	req.ID = fmt.Sprintf("%s-%s", n.ID, uuid.New().String()[:8])

	// Upstream outputs ride along as request context; payload
	// formatting is the provider's concern.
	if req.Context == nil {
		req.Context = make(map[string]string)
	}
	inputs := o.graph.Inputs(i)
	for k, j := range o.graph.Dependencies(i) {
		if inputs[k] != nil {
			req.Context["input."+o.graph.Node(j).ID] = inputs[k].Output
		}
	}

	chain, err := o.chains.ChainFor(req.MinTier)
	if err != nil {
		o.completeNode(i, nil, err)
		return
	}

	res, err := o.exec.Execute(ctx, req, chain)
	o.completeNode(i, res, err)
}

// completeNode records a node outcome and cascades skips on failure.
func (o *Orchestrator) completeNode(i int, res *models.ExecutionResult, err error) {
	n := o.graph.Node(i)
	if err != nil {
		o.setStatus(i, models.NodeStatusFailed, "execution failed", err)
		for _, j := range o.graph.SkipDependents(i, "dependency_failed:"+n.ID) {
			o.emitSkipped(j)
		}
		return
	}
	n.Result = res
	n.Error = ""
	o.setStatus(i, models.NodeStatusDone, fmt.Sprintf("served by %s", res.ProviderID), nil)
}

// emitSkipped emits the status event for a node SkipDependents already
// marked.
func (o *Orchestrator) emitSkipped(i int) {
	n := o.graph.mark(i, models.NodeStatusSkipped, "")
	o.logger.Log("[orchestrator] node %s -> skipped (%s)", n.ID, n.SkipReason)
	o.sink.Emit(events.Stamp(events.Event{
		Type:    events.EventNodeStatusChanged,
		NodeID:  n.ID,
		Message: n.SkipReason,
		Metadata: map[string]interface{}{
			"status": string(models.NodeStatusSkipped),
		},
	}))
}

// runSequential walks the graph in topological order, one node at a time.
func (o *Orchestrator) runSequential(ctx context.Context) error {
	order, err := o.graph.TopologicalOrder()
	if err != nil {
		return err
	}

	for _, i := range order {
		if ctx.Err() != nil {
			o.skipPending(ctx.Err().Error())
			return ctx.Err()
		}

		n := o.graph.Node(i)
		if n.Status != models.NodeStatusPending {
			continue
		}
		if !o.graph.depsSatisfied(i) {
			// A dependency failed and the cascade already handled the
			// non-optional dependents; anything left here is a node
			// whose optional input never materialized.
			continue
		}

		o.setStatus(i, models.NodeStatusRunning, "", nil)
		o.runNode(ctx, i)
	}
	return nil
}

// runConcurrent is the shared parallel/adaptive loop: dispatch every
// ready node up to the worker limit, re-evaluate readiness as
// completions arrive.
func (o *Orchestrator) runConcurrent(ctx context.Context) error {
	done := make(chan int)

	dispatch := func() int {
		batch := o.sched.next()
		for _, i := range batch {
			o.setStatus(i, models.NodeStatusRunning, "", nil)
			go func(i int) {
				o.runNode(ctx, i)
				done <- i
			}(i)
		}
		return len(batch)
	}

	dispatch()
	cancelled := ctx.Done()
	for o.sched.active() > 0 {
		select {
		case i := <-done:
			o.sched.onComplete(i)
			if ctx.Err() == nil {
				dispatch()
			}
		case <-cancelled:
			// Not-yet-started dependents skip immediately; in-flight
			// nodes stop at their next suspension point and drain
			// through the done channel.
			o.skipPending("graph cancelled")
			cancelled = nil
		}
	}

	if err := ctx.Err(); err != nil {
		o.skipPending("graph cancelled")
		return err
	}
	return nil
}

// skipPending marks every pending node skipped.
func (o *Orchestrator) skipPending(reason string) {
	for _, i := range o.graph.SkipAllPending(reason) {
		o.emitSkipped(i)
	}
}

// runIterative executes the graph, gates the terminal nodes, and
// re-executes escalated nodes until everything passes or the iteration
// budget runs out. Only nodes whose request changed re-run; passing
// nodes keep their results.
func (o *Orchestrator) runIterative(ctx context.Context) error {
	if err := o.graph.CycleCheck(); err != nil {
		return err
	}

	for iteration := 1; iteration <= o.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			o.skipPending("graph cancelled")
			return err
		}

		if err := o.runConcurrent(ctx); err != nil {
			return err
		}

		failing, err := o.assessTerminals(ctx, iteration)
		if err != nil {
			return err
		}
		if len(failing) == 0 {
			return nil
		}

		escalated := o.escalate(failing, iteration)
		if len(escalated) == 0 {
			// Top of the ladder; accept best-effort output.
			o.logger.Log("[orchestrator] iteration %d: %d nodes below threshold with no tier left", iteration, len(failing))
			return nil
		}
	}
	return nil
}

// assessTerminals scores every done terminal node and returns the
// indices scoring below the threshold.
func (o *Orchestrator) assessTerminals(ctx context.Context, iteration int) ([]int, error) {
	var failing []int
	for _, i := range o.graph.Terminals() {
		n := o.graph.Node(i)
		if n.Status != models.NodeStatusDone || n.Result == nil {
			continue
		}

		score, findings, err := o.gate.Assess(ctx, n.Result.Output, n.Request.Context)
		if err != nil {
			return nil, fmt.Errorf("quality gate on node %s: %w", n.ID, err)
		}
		n.Result.QualityScore = &score

		o.sink.Emit(events.Stamp(events.Event{
			Type:   events.EventRefinementScored,
			NodeID: n.ID,
			Tier:   n.Result.Tier,
			Metadata: map[string]interface{}{
				"iteration": iteration,
				"score":     score,
			},
		}))

		if score < o.cfg.QualityThreshold {
			n.Request = refine.DefaultFeedback(n.Request, findings)
			failing = append(failing, i)
		}
	}
	return failing, nil
}

// escalate bumps each failing node one rung up the ladder and resets it
// for re-execution. Nodes already at the top are left as they are.
func (o *Orchestrator) escalate(failing []int, iteration int) []int {
	var escalated []int
	for _, i := range failing {
		n := o.graph.Node(i)
		next, ok := o.nextTier(nodeTier(n))
		if !ok {
			continue
		}
		n.Request.MinTier = next
		o.graph.ResetForRerun(i)
		escalated = append(escalated, i)

		o.sink.Emit(events.Stamp(events.Event{
			Type:    events.EventRefinementEscalated,
			NodeID:  n.ID,
			Tier:    next,
			Message: fmt.Sprintf("escalating to %s after iteration %d", next, iteration),
			Metadata: map[string]interface{}{
				"iteration": iteration,
			},
		}))
	}
	return escalated
}

// nextTier returns the rung above the given tier within the configured
// ladder.
func (o *Orchestrator) nextTier(cur models.Tier) (models.Tier, bool) {
	for idx, t := range o.cfg.Tiers {
		if t == cur {
			if idx+1 < len(o.cfg.Tiers) {
				return o.cfg.Tiers[idx+1], true
			}
			return cur, false
		}
	}
	// Tier not on the ladder: start it at the bottom rung.
	if len(o.cfg.Tiers) > 0 && o.cfg.Tiers[0].Rank() > cur.Rank() {
		return o.cfg.Tiers[0], true
	}
	return cur, false
}
