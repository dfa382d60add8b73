package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flumehq/flume/internal/provider"
	"github.com/flumehq/flume/pkg/events"
	"github.com/flumehq/flume/pkg/models"
)

// Config tunes the resilience behavior shared by all providers an
// executor dispatches to.
type Config struct {
	// FailureThreshold is the consecutive retryable failures that open
	// a provider's circuit.
	FailureThreshold int
	// OpenTimeout is how long an open circuit rejects calls before
	// allowing a half-open trial.
	OpenTimeout time.Duration
	// RetryBudget is the number of retries allowed on one provider
	// before moving to the next chain entry.
	RetryBudget int
	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration
	// BackoffMax caps the exponential backoff delay.
	BackoffMax time.Duration
	// BucketCapacity is the per-provider token bucket size. Zero
	// disables rate limiting.
	BucketCapacity float64
	// BucketRefillPerSec is the per-provider token refill rate.
	BucketRefillPerSec float64
}

// withDefaults fills in zero values.
func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.RetryBudget < 0 {
		c.RetryBudget = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	return c
}

// ResilientExecutor dispatches execution requests through an ordered
// fallback chain of capability providers. It owns the per-provider
// circuit breakers, token buckets and the cost ledger; providers are
// borrowed from the registry by reference.
type ResilientExecutor struct {
	registry *provider.Registry
	cfg      Config
	backoff  Backoff
	sink     events.Sink
	ledger   *CostLedger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	buckets  map[string]*TokenBucket

	cacheMu sync.RWMutex
	cache   map[string]*models.ExecutionResult
}

// New creates a ResilientExecutor over the given registry.
func New(reg *provider.Registry, cfg Config, sink events.Sink) *ResilientExecutor {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = events.NopSink{}
	}
	return &ResilientExecutor{
		registry: reg,
		cfg:      cfg,
		backoff:  Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		sink:     sink,
		ledger:   NewCostLedger(),
		breakers: make(map[string]*CircuitBreaker),
		buckets:  make(map[string]*TokenBucket),
	}
}

// Ledger returns the executor's cost ledger.
func (e *ResilientExecutor) Ledger() *CostLedger {
	return e.ledger
}

// BreakerState returns the circuit state for a provider. Providers the
// executor has never dispatched to report closed.
func (e *ResilientExecutor) BreakerState(providerID string) CircuitState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.breakers[providerID]; ok {
		return b.State()
	}
	return StateClosed
}

// breaker returns the provider's breaker, creating it on first use.
func (e *ResilientExecutor) breaker(providerID string) *CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.breakers[providerID]
	if !ok {
		b = NewCircuitBreaker(e.cfg.FailureThreshold, e.cfg.OpenTimeout,
			func(from, to CircuitState) {
				e.sink.Emit(events.Stamp(events.Event{
					Type:     events.EventCircuitStateChanged,
					Provider: providerID,
					Message:  fmt.Sprintf("circuit %s -> %s", from, to),
					Metadata: map[string]interface{}{"from": string(from), "to": string(to)},
				}))
			})
		e.breakers[providerID] = b
	}
	return b
}

// bucket returns the provider's token bucket, creating it on first use.
func (e *ResilientExecutor) bucket(providerID string) *TokenBucket {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.buckets[providerID]
	if !ok {
		b = NewTokenBucket(e.cfg.BucketCapacity, e.cfg.BucketRefillPerSec)
		e.buckets[providerID] = b
	}
	return b
}

// cached returns a previously successful result for the request identity.
func (e *ResilientExecutor) cached(requestID string) (*models.ExecutionResult, bool) {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	res, ok := e.cache[requestID]
	return res, ok
}

// remember stores a successful result under the request identity.
func (e *ResilientExecutor) remember(res *models.ExecutionResult) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if e.cache == nil {
		e.cache = make(map[string]*models.ExecutionResult)
	}
	e.cache[res.RequestID] = res
}

// Execute dispatches the request through the chain, provider by
// provider, until one succeeds. The request's deadline, if any, is
// shared across the whole chain. Repeating Execute with an
// already-successful request identity returns the cached result without
// touching any breaker.
func (e *ResilientExecutor) Execute(ctx context.Context, req *models.ExecutionRequest, chain provider.Chain) (*models.ExecutionResult, error) {
	if req == nil {
		return nil, provider.Errorf(provider.KindInvalidRequest, "", "nil request")
	}
	if chain.Empty() {
		return nil, provider.Errorf(provider.KindInvalidRequest, "", "empty fallback chain")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if res, ok := e.cached(req.ID); ok {
		return res, nil
	}

	if req.Deadline != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, *req.Deadline)
		defer cancel()
	}

	var attempts []provider.ProviderAttempt

	for _, id := range chain.ProviderIDs {
		if err := ctx.Err(); err != nil {
			return nil, provider.NewError(provider.KindTimeout, id, err)
		}

		p, err := e.registry.Get(id)
		if err != nil {
			attempts = append(attempts, provider.ProviderAttempt{ProviderID: id, Err: err, Skipped: true})
			continue
		}

		if req.MinTier.Valid() && !p.Tier().AtLeast(req.MinTier) {
			e.emitSkip(id, req.ID, "below minimum tier")
			attempts = append(attempts, provider.ProviderAttempt{ProviderID: id, Skipped: true})
			continue
		}

		breaker := e.breaker(id)
		if !breaker.Allow() {
			e.emitSkip(id, req.ID, "circuit open")
			attempts = append(attempts, provider.ProviderAttempt{ProviderID: id, Skipped: true})
			continue
		}

		if !e.bucket(id).TryTake() {
			// Not a failure; hand back any half-open trial slot.
			breaker.ReleaseTrial()
			e.emitSkip(id, req.ID, "rate limited locally")
			attempts = append(attempts, provider.ProviderAttempt{ProviderID: id, Skipped: true})
			continue
		}

		res, attempt, err := e.tryProvider(ctx, p, breaker, req)
		if err == nil {
			e.remember(res)
			return res, nil
		}
		attempts = append(attempts, attempt)

		kind := provider.KindOf(err)
		if kind == provider.KindTimeout && ctx.Err() != nil {
			// The shared deadline is gone; remaining chain entries
			// cannot help.
			return nil, provider.NewError(provider.KindTimeout, id, ctx.Err())
		}
		if !kind.Retryable() && !chain.AllowCrossTier {
			return nil, err
		}
	}

	return nil, &provider.ChainExhaustedError{RequestID: req.ID, Attempts: attempts}
}

// tryProvider runs the retry loop for a single provider: up to
// 1+RetryBudget invocations with exponential backoff between retryable
// failures. It returns the terminal attempt record on failure.
func (e *ResilientExecutor) tryProvider(
	ctx context.Context,
	p provider.CapabilityProvider,
	breaker *CircuitBreaker,
	req *models.ExecutionRequest,
) (*models.ExecutionResult, provider.ProviderAttempt, error) {
	id := p.ID()
	attempt := provider.ProviderAttempt{ProviderID: id}

	var lastErr error
	for retry := 0; ; retry++ {
		e.sink.Emit(events.Stamp(events.Event{
			Type:      events.EventAttemptStarted,
			Provider:  id,
			RequestID: req.ID,
			Tier:      p.Tier(),
			Metadata:  map[string]interface{}{"retry": retry},
		}))

		start := time.Now()
		res, err := p.Invoke(ctx, req)
		if err == nil {
			breaker.RecordSuccess()
			if res.Latency == 0 {
				res.Latency = time.Since(start)
			}
			res.RequestID = req.ID
			e.ledger.Add(id, res.Cost)
			e.sink.Emit(events.Stamp(events.Event{
				Type:      events.EventAttemptSucceeded,
				Provider:  id,
				RequestID: req.ID,
				Tier:      res.Tier,
				Metadata: map[string]interface{}{
					"cost":       res.Cost,
					"latency_ms": res.Latency.Milliseconds(),
				},
			}))
			return res, attempt, nil
		}

		lastErr = err
		attempt.Err = err
		attempt.Retries = retry
		kind := provider.KindOf(err)

		e.sink.Emit(events.Stamp(events.Event{
			Type:      events.EventAttemptFailed,
			Provider:  id,
			RequestID: req.ID,
			Tier:      p.Tier(),
			Err:       err,
			Metadata:  map[string]interface{}{"kind": string(kind), "retry": retry},
		}))

		if !kind.Retryable() {
			// Permanent errors never open the circuit; the breaker
			// isolates outages, not bad requests.
			breaker.ReleaseTrial()
			return nil, attempt, err
		}

		breaker.RecordFailure()

		if breaker.State() == StateOpen || retry >= e.cfg.RetryBudget {
			return nil, attempt, lastErr
		}

		select {
		case <-time.After(e.backoff.Delay(retry)):
		case <-ctx.Done():
			return nil, attempt, provider.NewError(provider.KindTimeout, id, ctx.Err())
		}
	}
}

// emitSkip emits a provider_skipped event.
func (e *ResilientExecutor) emitSkip(providerID, requestID, reason string) {
	e.sink.Emit(events.Stamp(events.Event{
		Type:      events.EventProviderSkipped,
		Provider:  providerID,
		RequestID: requestID,
		Message:   reason,
	}))
}
