package provider

import (
	"fmt"

	"github.com/flumehq/flume/pkg/models"
)

// Chain is an ordered fallback chain: provider IDs tried in sequence
// until one succeeds. Chains are configuration, not code; reordering or
// swapping providers never touches the executor.
type Chain struct {
	// ProviderIDs lists providers in preference order.
	ProviderIDs []string
	// AllowCrossTier permits advancing past a provider that failed with
	// a permanent error, and including providers above the request's
	// minimum tier.
	AllowCrossTier bool
}

// Empty returns true if the chain holds no providers.
func (c Chain) Empty() bool {
	return len(c.ProviderIDs) == 0
}

// ChainSource yields fallback chains per tier. The refinement loop and
// the orchestrator resolve chains through this boundary so chain policy
// stays configuration.
type ChainSource interface {
	// ChainFor returns the fallback chain serving the given minimum tier.
	ChainFor(minTier models.Tier) (Chain, error)
}

// RegistryChains is the standard ChainSource: chains built from the
// registry, cost-ascending within the tier, optionally crossing tiers.
type RegistryChains struct {
	reg       *Registry
	crossTier bool
}

// NewRegistryChains creates a registry-backed chain source.
func NewRegistryChains(reg *Registry, crossTier bool) *RegistryChains {
	return &RegistryChains{reg: reg, crossTier: crossTier}
}

// ChainFor implements ChainSource.
func (c *RegistryChains) ChainFor(minTier models.Tier) (Chain, error) {
	return BuildChain(c.reg, minTier, c.crossTier)
}

// BuildChain constructs a fallback chain from the registry for a minimum
// tier: providers of that tier ordered cost-ascending, then, when
// crossTier is set, each higher tier's providers in escalation order.
func BuildChain(reg *Registry, minTier models.Tier, crossTier bool) (Chain, error) {
	if !minTier.Valid() {
		return Chain{}, fmt.Errorf("build chain: unknown tier %q", minTier)
	}

	chain := Chain{AllowCrossTier: crossTier}
	chain.ProviderIDs = append(chain.ProviderIDs, reg.ByTier(minTier)...)

	if crossTier {
		tier := minTier
		for {
			next, ok := tier.Next()
			if !ok {
				break
			}
			chain.ProviderIDs = append(chain.ProviderIDs, reg.ByTier(next)...)
			tier = next
		}
	}

	if chain.Empty() {
		return Chain{}, fmt.Errorf("build chain: no providers registered for tier %q", minTier)
	}
	return chain, nil
}
