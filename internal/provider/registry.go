package provider

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/flumehq/flume/pkg/models"
)

// Registry errors.
var (
	// ErrRegistryFrozen indicates a registration after Freeze.
	ErrRegistryFrozen = errors.New("provider registry is frozen")
	// ErrDuplicateProvider indicates a provider ID registered twice.
	ErrDuplicateProvider = errors.New("provider already registered")
	// ErrUnknownProvider indicates a lookup for an unregistered ID.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Registry holds the process-wide set of capability providers together
// with their descriptors. Providers are registered once at startup; the
// registry is frozen before execution begins and immutable afterward.
// Executors borrow providers by reference and never own them.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]CapabilityProvider
	descriptors map[string]Descriptor
	order       []string
	frozen      bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers:   make(map[string]CapabilityProvider),
		descriptors: make(map[string]Descriptor),
	}
}

// Register adds a provider with its descriptor. Registration order is
// preserved and used as the deterministic tie-break when building chains.
func (r *Registry) Register(p CapabilityProvider, desc Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("register %s: nil provider", desc.ID)
	}
	if p.ID() != desc.ID {
		return fmt.Errorf("register %s: provider reports id %q", desc.ID, p.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.providers[desc.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, desc.ID)
	}

	r.providers[desc.ID] = p
	r.descriptors[desc.ID] = desc
	r.order = append(r.order, desc.ID)
	return nil
}

// Freeze makes the registry immutable. Execution must not begin before
// Freeze is called.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen returns true once Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get returns the provider for an ID.
func (r *Registry) Get(id string) (CapabilityProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// Descriptor returns the descriptor for an ID.
func (r *Registry) Descriptor(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return d, nil
}

// IDs returns all registered provider IDs in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// ByTier returns the IDs of all providers in the given tier, sorted by
// cost ascending, registration order breaking ties.
func (r *Registry) ByTier(tier models.Tier) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	pos := make(map[string]int, len(r.order))
	for i, id := range r.order {
		pos[id] = i
		if r.descriptors[id].Tier == tier {
			ids = append(ids, id)
		}
	}

	sort.SliceStable(ids, func(i, j int) bool {
		ci := r.descriptors[ids[i]].CostPerUnit
		cj := r.descriptors[ids[j]].CostPerUnit
		if ci != cj {
			return ci < cj
		}
		return pos[ids[i]] < pos[ids[j]]
	})
	return ids
}

// Size returns the number of registered providers.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Teardown closes every provider that implements io.Closer, in reverse
// registration order. The registry is unusable afterward.
func (r *Registry) Teardown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		if c, ok := r.providers[r.order[i]].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", r.order[i], err))
			}
		}
	}

	r.providers = make(map[string]CapabilityProvider)
	r.descriptors = make(map[string]Descriptor)
	r.order = nil
	return errors.Join(errs...)
}
