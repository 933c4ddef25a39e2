package provider

import (
	"fmt"

	"example.com/integrations/internal/domain"
)

// Registry resolves a domain.Provider to its adapter.
type Registry struct {
	adapters map[domain.Provider]Adapter
}

// NewRegistry builds a Registry from the supplied adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Adapter returns the adapter for the provider.
func (r *Registry) Adapter(p domain.Provider) (Adapter, error) {
	adapter, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter registered for %q", domain.ErrUnknownProvider, p)
	}
	return adapter, nil
}
