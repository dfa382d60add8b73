package provider

import (
	"context"

	"github.com/flumehq/flume/pkg/models"
)

// CapabilityProvider is one backend able to execute a unit of work at a
// given quality/cost tier. Implementations are supplied by external
// collaborators and must be swappable without touching the executor.
//
// Invoke either returns a result with cost/latency metadata or fails
// with an error classified per the taxonomy in this package.
type CapabilityProvider interface {
	// ID returns the provider's unique identity.
	ID() string
	// Tier returns the tier this provider serves.
	Tier() models.Tier
	// CostPerUnit returns the configured cost per unit of work.
	CostPerUnit() float64
	// Invoke executes one request. Implementations must honor ctx
	// cancellation and deadlines.
	Invoke(ctx context.Context, req *models.ExecutionRequest) (*models.ExecutionResult, error)
}

// Descriptor is the immutable configuration of one registered provider.
// Tier bindings live here as declared data; no code path matches tier
// names to backends.
type Descriptor struct {
	// ID is the provider's unique identity.
	ID string `json:"id" mapstructure:"id"`
	// Tier is the quality/cost class the provider belongs to.
	Tier models.Tier `json:"tier" mapstructure:"tier"`
	// CostPerUnit is the configured cost per unit of work.
	CostPerUnit float64 `json:"cost_per_unit" mapstructure:"cost_per_unit"`
	// QualityFloor is the lowest quality score this provider is declared
	// to produce.
	QualityFloor float64 `json:"quality_floor" mapstructure:"quality_floor"`
	// QualityCeiling is the highest quality score this provider is
	// declared to produce.
	QualityCeiling float64 `json:"quality_ceiling" mapstructure:"quality_ceiling"`
}

// Validate checks that the descriptor is usable.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return Errorf(KindInvalidRequest, "", "provider descriptor missing id")
	}
	if !d.Tier.Valid() {
		return Errorf(KindInvalidRequest, d.ID, "unknown tier %q", d.Tier)
	}
	if d.CostPerUnit < 0 {
		return Errorf(KindInvalidRequest, d.ID, "negative cost per unit %f", d.CostPerUnit)
	}
	return nil
}
