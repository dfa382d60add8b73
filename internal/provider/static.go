package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/flumehq/flume/pkg/models"
)

// StaticProvider is a deterministic in-process provider. It echoes the
// request payload back with a fixed prefix after an optional simulated
// latency. Used for dry runs and local graph development where no real
// backend should be called.
type StaticProvider struct {
	desc    Descriptor
	latency time.Duration
}

// NewStaticProvider creates a static provider from a descriptor.
func NewStaticProvider(desc Descriptor, latency time.Duration) *StaticProvider {
	return &StaticProvider{desc: desc, latency: latency}
}

// ID implements CapabilityProvider.
func (p *StaticProvider) ID() string { return p.desc.ID }

// Tier implements CapabilityProvider.
func (p *StaticProvider) Tier() models.Tier { return p.desc.Tier }

// CostPerUnit implements CapabilityProvider.
func (p *StaticProvider) CostPerUnit() float64 { return p.desc.CostPerUnit }

// Invoke implements CapabilityProvider.
func (p *StaticProvider) Invoke(ctx context.Context, req *models.ExecutionRequest) (*models.ExecutionResult, error) {
	start := time.Now()

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, NewError(KindTimeout, p.desc.ID, ctx.Err())
		}
	}

	return &models.ExecutionResult{
		RequestID:  req.ID,
		Output:     fmt.Sprintf("[%s] %s", p.desc.ID, req.Payload),
		ProviderID: p.desc.ID,
		Tier:       p.desc.Tier,
		Cost:       p.desc.CostPerUnit,
		Latency:    time.Since(start),
	}, nil
}
