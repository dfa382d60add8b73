package refine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flumehq/flume/internal/executor"
	"github.com/flumehq/flume/internal/provider"
	"github.com/flumehq/flume/pkg/events"
	"github.com/flumehq/flume/pkg/models"
)

// tierProvider answers with its own ID and records the payloads it saw.
type tierProvider struct {
	id   string
	tier models.Tier

	mu       sync.Mutex
	payloads []string
	fail     error
}

func (p *tierProvider) ID() string           { return p.id }
func (p *tierProvider) Tier() models.Tier    { return p.tier }
func (p *tierProvider) CostPerUnit() float64 { return 1 }

func (p *tierProvider) Invoke(ctx context.Context, req *models.ExecutionRequest) (*models.ExecutionResult, error) {
	p.mu.Lock()
	p.payloads = append(p.payloads, req.Payload)
	p.mu.Unlock()
	if p.fail != nil {
		return nil, p.fail
	}
	return &models.ExecutionResult{
		RequestID:  req.ID,
		Output:     p.id,
		ProviderID: p.id,
		Tier:       p.tier,
		Cost:       1,
		Latency:    time.Millisecond,
	}, nil
}

func (p *tierProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

// gateByProvider scores outputs by the provider that produced them.
func gateByProvider(scores map[string]float64) QualityGate {
	return GateFunc(func(_ context.Context, output string, _ map[string]string) (float64, []models.Finding, error) {
		score := scores[output]
		var findings []models.Finding
		if score < 90 {
			findings = append(findings, models.Finding{
				Category: "completeness",
				Message:  "output from " + output + " is incomplete",
				Severity: models.SeverityError,
			})
		}
		return score, findings, nil
	})
}

func loopSetup(t *testing.T, providers ...*tierProvider) (*Loop, *events.ChannelSink) {
	t.Helper()
	reg := provider.NewRegistry()
	for _, p := range providers {
		desc := provider.Descriptor{ID: p.id, Tier: p.tier, CostPerUnit: 1}
		if err := reg.Register(p, desc); err != nil {
			t.Fatalf("register %s: %v", p.id, err)
		}
	}
	reg.Freeze()

	sink := events.NewChannelSink(64)
	exec := executor.New(reg, executor.Config{
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
		BackoffBase:      time.Millisecond,
		BackoffMax:       2 * time.Millisecond,
	}, sink)

	return NewLoop(exec, provider.NewRegistryChains(reg, false), 90, nil, sink), sink
}

func ladder() []models.Tier {
	return []models.Tier{models.TierEconomy, models.TierStandard, models.TierPremium}
}

func TestRefinePassesAfterEscalation(t *testing.T) {
	econ := &tierProvider{id: "econ", tier: models.TierEconomy}
	std := &tierProvider{id: "std", tier: models.TierStandard}
	prem := &tierProvider{id: "prem", tier: models.TierPremium}
	loop, _ := loopSetup(t, econ, std, prem)

	gate := gateByProvider(map[string]float64{"econ": 60, "std": 82, "prem": 95})

	outcome, err := loop.Refine(context.Background(),
		&models.ExecutionRequest{ID: "task-1", Payload: "write it"},
		ladder(), gate, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !outcome.Passed {
		t.Fatal("session should pass at the premium tier")
	}
	if len(outcome.Attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(outcome.Attempts))
	}

	wantTiers := ladder()
	wantDecisions := []models.RefinementDecision{
		models.DecisionEscalate, models.DecisionEscalate, models.DecisionAccept,
	}
	for i, a := range outcome.Attempts {
		if a.Tier != wantTiers[i] {
			t.Errorf("attempt %d tier = %s, want %s", i+1, a.Tier, wantTiers[i])
		}
		if a.Decision != wantDecisions[i] {
			t.Errorf("attempt %d decision = %s, want %s", i+1, a.Decision, wantDecisions[i])
		}
	}

	// Monotonic escalation: the economy provider is attempted exactly once.
	if econ.calls() != 1 {
		t.Errorf("economy tier re-attempted: %d calls", econ.calls())
	}
	if outcome.Best == nil || outcome.Best.Score != 95 {
		t.Errorf("best attempt should score 95, got %+v", outcome.Best)
	}
}

func TestRefineFeedbackReachesNextTier(t *testing.T) {
	econ := &tierProvider{id: "econ", tier: models.TierEconomy}
	std := &tierProvider{id: "std", tier: models.TierStandard}
	loop, _ := loopSetup(t, econ, std)

	gate := gateByProvider(map[string]float64{"econ": 50, "std": 95})

	_, err := loop.Refine(context.Background(),
		&models.ExecutionRequest{ID: "task-2", Payload: "base prompt"},
		[]models.Tier{models.TierEconomy, models.TierStandard}, gate, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	std.mu.Lock()
	defer std.mu.Unlock()
	if len(std.payloads) != 1 {
		t.Fatalf("expected 1 standard-tier call, got %d", len(std.payloads))
	}
	if !strings.Contains(std.payloads[0], "base prompt") {
		t.Error("escalated payload lost the original prompt")
	}
	if !strings.Contains(std.payloads[0], "incomplete") {
		t.Error("escalated payload should carry the previous findings")
	}
}

func TestRefineBoundedFailureCarriesBest(t *testing.T) {
	econ := &tierProvider{id: "econ", tier: models.TierEconomy}
	std := &tierProvider{id: "std", tier: models.TierStandard}
	loop, _ := loopSetup(t, econ, std)

	gate := gateByProvider(map[string]float64{"econ": 40, "std": 70})

	outcome, err := loop.Refine(context.Background(),
		&models.ExecutionRequest{ID: "task-3", Payload: "x"},
		[]models.Tier{models.TierEconomy, models.TierStandard}, gate, 5)
	if err != nil {
		t.Fatalf("bounded failure must not be an error: %v", err)
	}

	if !outcome.BoundedFailure() {
		t.Fatal("expected a bounded failure")
	}
	if outcome.Best == nil || outcome.Best.Score != 70 {
		t.Errorf("best attempt should be the 70-scoring one, got %+v", outcome.Best)
	}
	last := outcome.Attempts[len(outcome.Attempts)-1]
	if last.Decision != models.DecisionAbandon {
		t.Errorf("final decision = %s, want abandon", last.Decision)
	}
}

func TestRefineMaxIterationsBound(t *testing.T) {
	econ := &tierProvider{id: "econ", tier: models.TierEconomy}
	std := &tierProvider{id: "std", tier: models.TierStandard}
	prem := &tierProvider{id: "prem", tier: models.TierPremium}
	loop, _ := loopSetup(t, econ, std, prem)

	gate := gateByProvider(map[string]float64{"econ": 40, "std": 50, "prem": 60})

	outcome, err := loop.Refine(context.Background(),
		&models.ExecutionRequest{ID: "task-4", Payload: "x"},
		ladder(), gate, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcome.Attempts) != 2 {
		t.Errorf("iteration budget of 2 must yield 2 attempts, got %d", len(outcome.Attempts))
	}
	if prem.calls() != 0 {
		t.Error("premium tier must not run once the iteration budget is spent")
	}
}

func TestRefineExecutionFailureEscalates(t *testing.T) {
	econ := &tierProvider{id: "econ", tier: models.TierEconomy,
		fail: provider.NewError(provider.KindUnavailable, "econ", errors.New("down"))}
	std := &tierProvider{id: "std", tier: models.TierStandard}
	loop, _ := loopSetup(t, econ, std)

	gate := gateByProvider(map[string]float64{"std": 95})

	outcome, err := loop.Refine(context.Background(),
		&models.ExecutionRequest{ID: "task-5", Payload: "x"},
		[]models.Tier{models.TierEconomy, models.TierStandard}, gate, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Passed {
		t.Error("session should recover by escalating past the dead tier")
	}
}

func TestRefineAllTiersFailReturnsError(t *testing.T) {
	econ := &tierProvider{id: "econ", tier: models.TierEconomy,
		fail: provider.NewError(provider.KindUnavailable, "econ", errors.New("down"))}
	loop, _ := loopSetup(t, econ)

	gate := gateByProvider(nil)

	_, err := loop.Refine(context.Background(),
		&models.ExecutionRequest{ID: "task-6", Payload: "x"},
		[]models.Tier{models.TierEconomy}, gate, 2)
	if err == nil {
		t.Fatal("a session with no executed attempt should surface the provider error")
	}
}

func TestRefineRejectsBadLadder(t *testing.T) {
	econ := &tierProvider{id: "econ", tier: models.TierEconomy}
	loop, _ := loopSetup(t, econ)
	gate := gateByProvider(nil)
	req := &models.ExecutionRequest{ID: "t", Payload: "x"}

	if _, err := loop.Refine(context.Background(), req, nil, gate, 1); err == nil {
		t.Error("empty ladder should be rejected")
	}

	descending := []models.Tier{models.TierStandard, models.TierEconomy}
	if _, err := loop.Refine(context.Background(), req, descending, gate, 1); err == nil {
		t.Error("non-ascending ladder should be rejected")
	}

	if _, err := loop.Refine(context.Background(), req, ladder(), nil, 1); err == nil {
		t.Error("nil gate should be rejected")
	}
}

func TestRefineCancelledBetweenAttempts(t *testing.T) {
	econ := &tierProvider{id: "econ", tier: models.TierEconomy}
	loop, _ := loopSetup(t, econ)
	gate := gateByProvider(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := loop.Refine(ctx, &models.ExecutionRequest{ID: "t", Payload: "x"},
		ladder(), gate, 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(outcome.Attempts) != 0 {
		t.Error("no attempt should run after cancellation")
	}
	if econ.calls() != 0 {
		t.Error("cancelled session must not invoke providers")
	}
}

func TestRefineEmitsEscalationEvents(t *testing.T) {
	econ := &tierProvider{id: "econ", tier: models.TierEconomy}
	std := &tierProvider{id: "std", tier: models.TierStandard}
	loop, sink := loopSetup(t, econ, std)

	gate := gateByProvider(map[string]float64{"econ": 50, "std": 95})

	_, err := loop.Refine(context.Background(),
		&models.ExecutionRequest{ID: "task-7", Payload: "x"},
		[]models.Tier{models.TierEconomy, models.TierStandard}, gate, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := make(map[events.Type]int)
	for len(sink.Events()) > 0 {
		counts[(<-sink.Events()).Type]++
	}

	if counts[events.EventRefinementEscalated] != 1 {
		t.Errorf("expected exactly 1 escalation event, got %d", counts[events.EventRefinementEscalated])
	}
	if counts[events.EventRefinementScored] != 2 {
		t.Errorf("expected 2 scored events, got %d", counts[events.EventRefinementScored])
	}
	if counts[events.EventRefinementDone] != 1 {
		t.Errorf("expected 1 done event, got %d", counts[events.EventRefinementDone])
	}
}
