package llm

import (
	"fmt"
	"strings"
)

// Providers holds one adapter per registry entry.
type Providers struct {
	registry *Registry
	adapters map[string]Provider
}

// NewProviders builds an adapter for every registry entry.
func NewProviders(registry *Registry, opts ...AdapterOption) (*Providers, error) {
	p := &Providers{
		registry: registry,
		adapters: make(map[string]Provider, registry.Len()),
	}

	for _, cfg := range registry.List() {
		adapter, err := NewAdapter(cfg, opts...)
		if err != nil {
			return nil, fmt.Errorf("factory lookup failed for %s: %w", cfg.Name, err)
		}
		p.adapters[strings.ToLower(cfg.Name)] = adapter
	}

	return p, nil
}

// NewProvidersFrom wraps already constructed providers, mostly for tests.
func NewProvidersFrom(list ...Provider) *Providers {
	cfgs := make([]ProviderConfig, 0, len(list))
	adapters := make(map[string]Provider, len(list))
	for _, p := range list {
		cfgs = append(cfgs, p.Config())
		adapters[strings.ToLower(p.Name())] = p
	}
	return &Providers{registry: NewRegistry(cfgs), adapters: adapters}
}

func (p *Providers) Get(name string) (Provider, error) {
	a, ok := p.adapters[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return a, nil
}

func (p *Providers) Registry() *Registry {
	return p.registry
}
