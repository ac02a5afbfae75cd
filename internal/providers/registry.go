package providers

import (
	"fmt"
	"sync/atomic"
)

// Descriptor holds the process-lifetime identity and limits of one registered
// provider. The enabled flag is written only by the health monitor's check
// loop; the aggregator and alert manager read it and tolerate a value that is
// stale by one check interval.
type Descriptor struct {
	ID          string
	Name        string
	ServiceType string
	MaxListings int

	enabled  atomic.Bool
	provider Provider
}

// NewDescriptor registers a provider implementation under a stable source ID.
// Providers start enabled.
func NewDescriptor(id, name, serviceType string, maxListings int, p Provider) *Descriptor {
	d := &Descriptor{
		ID:          id,
		Name:        name,
		ServiceType: serviceType,
		MaxListings: maxListings,
		provider:    p,
	}
	d.enabled.Store(true)
	return d
}

// Enabled reports whether the provider currently participates in searches.
func (d *Descriptor) Enabled() bool {
	return d.enabled.Load()
}

// SetEnabled flips participation. Called by the health monitor only.
func (d *Descriptor) SetEnabled(v bool) {
	d.enabled.Store(v)
}

// Provider returns the wrapped implementation.
func (d *Descriptor) Provider() Provider {
	return d.provider
}

// Registry is the fixed set of provider descriptors, built once at startup
// from configuration. Iteration order is registration order, which the merge
// algorithm relies on for deterministic rotation.
type Registry struct {
	ordered []*Descriptor
	byID    map[string]*Descriptor
}

// NewRegistry builds a registry from descriptors. Duplicate IDs are a
// configuration error and rejected.
func NewRegistry(descriptors ...*Descriptor) (*Registry, error) {
	r := &Registry{
		byID: make(map[string]*Descriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if _, ok := r.byID[d.ID]; ok {
			return nil, fmt.Errorf("duplicate provider id %q", d.ID)
		}
		r.ordered = append(r.ordered, d)
		r.byID[d.ID] = d
	}
	return r, nil
}

// All returns every descriptor in registration order.
func (r *Registry) All() []*Descriptor {
	return r.ordered
}

// Get looks up a descriptor by source ID.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// ForServiceType returns descriptors serving the given service type, in
// registration order. An empty service type matches all providers.
func (r *Registry) ForServiceType(serviceType string) []*Descriptor {
	if serviceType == "" {
		return r.ordered
	}
	var out []*Descriptor
	for _, d := range r.ordered {
		if d.ServiceType == serviceType || d.ServiceType == "" {
			out = append(out, d)
		}
	}
	return out
}
