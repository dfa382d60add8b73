package provider

import (
	"errors"
	"testing"
	"time"

	"github.com/flumehq/flume/pkg/models"
)

func staticDesc(id string, tier models.Tier, cost float64) Descriptor {
	return Descriptor{ID: id, Tier: tier, CostPerUnit: cost, QualityFloor: 0.3, QualityCeiling: 0.9}
}

func mustRegister(t *testing.T, r *Registry, id string, tier models.Tier, cost float64) {
	t.Helper()
	desc := staticDesc(id, tier, cost)
	if err := r.Register(NewStaticProvider(desc, 0), desc); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "econ-a", models.TierEconomy, 0.1)

	p, err := r.Get("econ-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID() != "econ-a" {
		t.Errorf("expected econ-a, got %s", p.ID())
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "econ-a", models.TierEconomy, 0.1)

	desc := staticDesc("econ-a", models.TierEconomy, 0.2)
	err := r.Register(NewStaticProvider(desc, 0), desc)
	if !errors.Is(err, ErrDuplicateProvider) {
		t.Errorf("expected ErrDuplicateProvider, got %v", err)
	}
}

func TestRegistryFreeze(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "econ-a", models.TierEconomy, 0.1)
	r.Freeze()

	if !r.Frozen() {
		t.Error("registry should report frozen")
	}

	desc := staticDesc("econ-b", models.TierEconomy, 0.2)
	if err := r.Register(NewStaticProvider(desc, 0), desc); !errors.Is(err, ErrRegistryFrozen) {
		t.Errorf("expected ErrRegistryFrozen, got %v", err)
	}
	if r.Size() != 1 {
		t.Errorf("frozen registry size changed: %d", r.Size())
	}
}

func TestRegistryRejectsBadDescriptors(t *testing.T) {
	r := NewRegistry()

	bad := []Descriptor{
		{ID: "", Tier: models.TierEconomy},
		{ID: "x", Tier: models.Tier("bogus")},
		{ID: "y", Tier: models.TierEconomy, CostPerUnit: -1},
	}
	for _, desc := range bad {
		if err := r.Register(NewStaticProvider(desc, 0), desc); err == nil {
			t.Errorf("descriptor %+v should be rejected", desc)
		}
	}
}

func TestRegistryByTierSortsByCost(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "econ-pricey", models.TierEconomy, 0.5)
	mustRegister(t, r, "econ-cheap", models.TierEconomy, 0.1)
	mustRegister(t, r, "std-a", models.TierStandard, 1.0)

	got := r.ByTier(models.TierEconomy)
	want := []string{"econ-cheap", "econ-pricey"}
	if len(got) != len(want) {
		t.Fatalf("expected %d providers, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRegistryByTierStableOnEqualCost(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "first", models.TierStandard, 1.0)
	mustRegister(t, r, "second", models.TierStandard, 1.0)

	got := r.ByTier(models.TierStandard)
	if got[0] != "first" || got[1] != "second" {
		t.Errorf("equal-cost providers should keep registration order, got %v", got)
	}
}

// closingProvider wraps a StaticProvider and records Close calls.
type closingProvider struct {
	*StaticProvider
	closed *bool
}

func (c *closingProvider) Close() error {
	*c.closed = true
	return nil
}

func TestRegistryTeardownClosesProviders(t *testing.T) {
	r := NewRegistry()
	desc := staticDesc("econ-a", models.TierEconomy, 0.1)
	closed := false
	p := &closingProvider{StaticProvider: NewStaticProvider(desc, 0), closed: &closed}
	if err := r.Register(p, desc); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if !closed {
		t.Error("teardown should close providers implementing io.Closer")
	}
	if r.Size() != 0 {
		t.Error("teardown should empty the registry")
	}
}

func TestBuildChainWithinTier(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "econ-pricey", models.TierEconomy, 0.5)
	mustRegister(t, r, "econ-cheap", models.TierEconomy, 0.1)
	mustRegister(t, r, "std-a", models.TierStandard, 1.0)

	chain, err := BuildChain(r, models.TierEconomy, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"econ-cheap", "econ-pricey"}
	if len(chain.ProviderIDs) != 2 || chain.ProviderIDs[0] != want[0] || chain.ProviderIDs[1] != want[1] {
		t.Errorf("expected %v, got %v", want, chain.ProviderIDs)
	}
	if chain.AllowCrossTier {
		t.Error("cross-tier should be off")
	}
}

func TestBuildChainCrossTier(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "std-a", models.TierStandard, 1.0)
	mustRegister(t, r, "prem-a", models.TierPremium, 3.0)
	mustRegister(t, r, "emerg-a", models.TierEmergency, 9.0)
	mustRegister(t, r, "econ-a", models.TierEconomy, 0.1)

	chain, err := BuildChain(r, models.TierStandard, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"std-a", "prem-a", "emerg-a"}
	if len(chain.ProviderIDs) != len(want) {
		t.Fatalf("expected %v, got %v", want, chain.ProviderIDs)
	}
	for i := range want {
		if chain.ProviderIDs[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, chain.ProviderIDs[i], want[i])
		}
	}
}

func TestBuildChainEmptyTier(t *testing.T) {
	r := NewRegistry()
	if _, err := BuildChain(r, models.TierPremium, false); err == nil {
		t.Error("expected error for tier with no providers")
	}
	if _, err := BuildChain(r, models.Tier("bogus"), false); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestStaticProviderEchoes(t *testing.T) {
	desc := staticDesc("econ-a", models.TierEconomy, 0.25)
	p := NewStaticProvider(desc, time.Millisecond)

	res, err := p.Invoke(t.Context(), &models.ExecutionRequest{ID: "req-1", Payload: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProviderID != "econ-a" || res.Tier != models.TierEconomy {
		t.Errorf("unexpected provenance: %+v", res)
	}
	if res.Cost != 0.25 {
		t.Errorf("expected cost 0.25, got %f", res.Cost)
	}
}
