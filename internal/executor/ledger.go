package executor

import "sync"

// CostLedger accumulates cost per provider. Increments are commutative,
// so concurrent callers need only mutual exclusion, not ordering.
type CostLedger struct {
	mu          sync.Mutex
	perProvider map[string]float64
	total       float64

	// mirror, when set, receives each increment for out-of-process
	// persistence. Called outside the lock and best-effort only.
	mirror func(providerID string, cost float64)
}

// NewCostLedger creates an empty ledger.
func NewCostLedger() *CostLedger {
	return &CostLedger{perProvider: make(map[string]float64)}
}

// SetMirror installs a mirror callback for each increment.
func (l *CostLedger) SetMirror(fn func(providerID string, cost float64)) {
	l.mu.Lock()
	l.mirror = fn
	l.mu.Unlock()
}

// Add records cost incurred by a provider.
func (l *CostLedger) Add(providerID string, cost float64) {
	l.mu.Lock()
	l.perProvider[providerID] += cost
	l.total += cost
	mirror := l.mirror
	l.mu.Unlock()

	if mirror != nil {
		mirror(providerID, cost)
	}
}

// Total returns the accumulated cost across all providers.
func (l *CostLedger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// ByProvider returns a copy of the per-provider totals.
func (l *CostLedger) ByProvider() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]float64, len(l.perProvider))
	for k, v := range l.perProvider {
		out[k] = v
	}
	return out
}
