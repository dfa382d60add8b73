package models

// Tier represents the quality/cost class a provider belongs to.
// Tiers are ordered: escalation moves strictly upward through TierOrder.
type Tier string

const (
	// TierEconomy is the cheapest class, used for first attempts.
	TierEconomy Tier = "economy"
	// TierStandard is the balanced class for routine work.
	TierStandard Tier = "standard"
	// TierPremium is the most capable regular class.
	TierPremium Tier = "premium"
	// TierEmergency is reserved capacity used only when everything else failed.
	TierEmergency Tier = "emergency"
)

// TierOrder lists all tiers from lowest to highest. Escalation follows
// this ordering and never moves backward within a session.
var TierOrder = []Tier{TierEconomy, TierStandard, TierPremium, TierEmergency}

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierEconomy, TierStandard, TierPremium, TierEmergency:
		return true
	default:
		return false
	}
}

// Rank returns the tier's position in the escalation order,
// or -1 for unknown tiers.
func (t Tier) Rank() int {
	for i, o := range TierOrder {
		if o == t {
			return i
		}
	}
	return -1
}

// Next returns the tier directly above this one. The second return
// value is false when the tier is already the highest (or unknown).
func (t Tier) Next() (Tier, bool) {
	r := t.Rank()
	if r < 0 || r >= len(TierOrder)-1 {
		return t, false
	}
	return TierOrder[r+1], true
}

// AtLeast returns true if the tier is at or above the given minimum.
func (t Tier) AtLeast(min Tier) bool {
	return t.Rank() >= min.Rank()
}
