package models

import "testing"

func TestTierValid(t *testing.T) {
	tests := []struct {
		tier Tier
		want bool
	}{
		{TierEconomy, true},
		{TierStandard, true},
		{TierPremium, true},
		{TierEmergency, true},
		{Tier("platinum"), false},
		{Tier(""), false},
	}

	for _, tt := range tests {
		if got := tt.tier.Valid(); got != tt.want {
			t.Errorf("Tier(%q).Valid() = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestTierRankOrdering(t *testing.T) {
	if !(TierEconomy.Rank() < TierStandard.Rank() &&
		TierStandard.Rank() < TierPremium.Rank() &&
		TierPremium.Rank() < TierEmergency.Rank()) {
		t.Error("tier ranks are not strictly increasing")
	}
	if Tier("bogus").Rank() != -1 {
		t.Error("unknown tier should rank -1")
	}
}

func TestTierNext(t *testing.T) {
	next, ok := TierEconomy.Next()
	if !ok || next != TierStandard {
		t.Errorf("economy.Next() = %q, %v; want standard, true", next, ok)
	}

	if _, ok := TierEmergency.Next(); ok {
		t.Error("emergency should have no next tier")
	}

	if _, ok := Tier("bogus").Next(); ok {
		t.Error("unknown tier should have no next tier")
	}
}

func TestTierAtLeast(t *testing.T) {
	if !TierPremium.AtLeast(TierStandard) {
		t.Error("premium should be at least standard")
	}
	if TierEconomy.AtLeast(TierStandard) {
		t.Error("economy should not be at least standard")
	}
	if !TierStandard.AtLeast(TierStandard) {
		t.Error("a tier should be at least itself")
	}
}
